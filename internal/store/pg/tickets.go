package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/streamgate/streamgate/internal/store/core"
)

const ticketColumns = `
	id, user_id, content_id, content_type, season_number, episode_number,
	file_ref, signature, client_ip, user_agent, created_at, expires_at,
	last_used_at, use_count, max_uses, is_revoked, revoked_at, revocation_reason
`

func scanTicket(row pgx.Row) (*core.Ticket, error) {
	var t core.Ticket
	err := row.Scan(
		&t.ID, &t.UserID, &t.ContentID, &t.ContentType, &t.SeasonNumber, &t.EpisodeNumber,
		&t.FileRef, &t.Signature, &t.ClientIP, &t.UserAgent, &t.CreatedAt, &t.ExpiresAt,
		&t.LastUsedAt, &t.UseCount, &t.MaxUses, &t.IsRevoked, &t.RevokedAt, &t.RevocationReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTicket(ctx context.Context, t *core.Ticket) error {
	const query = `
		INSERT INTO stream_tickets (
			id, user_id, content_id, content_type, season_number, episode_number,
			file_ref, signature, client_ip, user_agent, created_at, expires_at,
			use_count, max_uses, is_revoked, revocation_reason
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,FALSE,'')
	`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.UserID, t.ContentID, t.ContentType, t.SeasonNumber, t.EpisodeNumber,
		t.FileRef, t.Signature, t.ClientIP, t.UserAgent, t.CreatedAt, t.ExpiresAt,
		t.UseCount, t.MaxUses,
	)
	return err
}

func (s *Store) GetTicket(ctx context.Context, id string) (*core.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM stream_tickets WHERE id = $1`
	return scanTicket(s.pool.QueryRow(ctx, query, id))
}

// ConsumeTicket is the race-safe redemption path: the guard conditions and
// the increment run in one statement, so two concurrent redemptions can
// never both take the last use.
func (s *Store) ConsumeTicket(ctx context.Context, id string, now time.Time) (*core.Ticket, bool, error) {
	const query = `
		UPDATE stream_tickets
		SET use_count = use_count + 1, last_used_at = $2
		WHERE id = $1
		  AND NOT is_revoked
		  AND expires_at > $2
		  AND use_count < max_uses
		RETURNING ` + ticketColumns
	t, err := scanTicket(s.pool.QueryRow(ctx, query, id, now))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, false, err
	}

	// Conditional update missed: reread so the caller can classify why.
	t, err = s.GetTicket(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return t, false, nil
}

func (s *Store) RevokeTicket(ctx context.Context, id, reason string, at time.Time) error {
	const query = `
		UPDATE stream_tickets
		SET is_revoked = TRUE, revoked_at = $2, revocation_reason = $3
		WHERE id = $1 AND NOT is_revoked
	`
	tag, err := s.pool.Exec(ctx, query, id, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either absent or already revoked; distinguish for the caller.
		if _, gerr := s.GetTicket(ctx, id); gerr != nil {
			return gerr
		}
	}
	return nil
}

func (s *Store) RevokeUserTickets(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	const query = `
		UPDATE stream_tickets
		SET is_revoked = TRUE, revoked_at = $2, revocation_reason = $3
		WHERE user_id = $1 AND NOT is_revoked AND expires_at > $2
	`
	tag, err := s.pool.Exec(ctx, query, userID, at, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteStaleTickets(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	const query = `
		DELETE FROM stream_tickets
		WHERE expires_at < $1
		   OR (is_revoked AND revoked_at < $2)
	`
	tag, err := s.pool.Exec(ctx, query, now, revokedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) TicketStats(ctx context.Context, since time.Time) (*core.TicketStats, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= $1)                                    AS issued,
			COALESCE(SUM(use_count) FILTER (WHERE last_used_at >= $1), 0)               AS redeemed,
			COUNT(*) FILTER (WHERE is_revoked AND revoked_at >= $1)                     AS revoked,
			COUNT(*) FILTER (WHERE NOT is_revoked AND expires_at > NOW() AND use_count < max_uses) AS active
		FROM stream_tickets
	`
	st := &core.TicketStats{DeniedByReason: map[string]int64{}}
	if err := s.pool.QueryRow(ctx, query, since).Scan(
		&st.Issued, &st.Redeemed, &st.Revoked, &st.ActiveTickets,
	); err != nil {
		return nil, err
	}

	// Denial breakdown comes from the audit trail, not the ticket rows.
	const denials = `
		SELECT COALESCE(details->>'reason', ''), COUNT(*)
		FROM security_events
		WHERE event_type = 'ticket_verification_failed' AND created_at >= $1
		GROUP BY 1
	`
	rows, err := s.pool.Query(ctx, denials, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		st.DeniedByReason[reason] = n
	}
	return st, rows.Err()
}
