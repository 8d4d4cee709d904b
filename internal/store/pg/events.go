package pg

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/streamgate/streamgate/internal/store/core"
)

// severitiesAtOrAbove expands a minimum severity into the set of matching
// labels so the query stays a plain IN list.
func severitiesAtOrAbove(min core.Severity) []string {
	all := []core.Severity{
		core.SeverityInfo, core.SeverityLow, core.SeverityMedium,
		core.SeverityHigh, core.SeverityCritical,
	}
	var out []string
	for _, s := range all {
		if s.Rank() >= min.Rank() {
			out = append(out, string(s))
		}
	}
	return out
}

func (s *Store) AppendSecurityEvent(ctx context.Context, e *core.SecurityEvent) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO security_events (event_type, user_id, client_ip, details, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query, e.EventType, e.UserID, e.ClientIP, raw, e.Severity, e.CreatedAt)
	return err
}

func (s *Store) QuerySecurityEvents(ctx context.Context, f core.EventFilter) ([]core.SecurityEvent, error) {
	query := `
		SELECT id, event_type, user_id, client_ip, details, severity, created_at
		FROM security_events
		WHERE 1=1
	`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.EventType != "" {
		query += " AND event_type = " + arg(f.EventType)
	}
	if f.UserID != "" {
		query += " AND user_id = " + arg(f.UserID)
	}
	if f.ClientIP != "" {
		query += " AND client_ip = " + arg(f.ClientIP)
	}
	if f.MinSeverity != "" {
		query += " AND severity = ANY(" + arg(severitiesAtOrAbove(f.MinSeverity)) + ")"
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= " + arg(f.Since)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.SecurityEvent
	for rows.Next() {
		var e core.SecurityEvent
		var raw []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.UserID, &e.ClientIP, &raw, &e.Severity, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountSecurityEventsByIP(ctx context.Context, ip string, minSeverity core.Severity, since time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM security_events
		WHERE client_ip = $1 AND severity = ANY($2) AND created_at >= $3
	`
	var n int64
	err := s.pool.QueryRow(ctx, query, ip, severitiesAtOrAbove(minSeverity), since).Scan(&n)
	return n, err
}

func (s *Store) DeleteSecurityEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM security_events WHERE created_at < $1`
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
