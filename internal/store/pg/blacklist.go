package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/streamgate/streamgate/internal/store/core"
)

func (s *Store) UpsertBlacklistEntry(ctx context.Context, e *core.BlacklistEntry) error {
	const query = `
		INSERT INTO ip_blacklist (ip, reason, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (ip)
		DO UPDATE SET reason = $2, created_at = $3, expires_at = $4, active = TRUE
	`
	_, err := s.pool.Exec(ctx, query, e.IP, e.Reason, e.CreatedAt, e.ExpiresAt)
	return err
}

func (s *Store) GetActiveBlacklistEntry(ctx context.Context, ip string, now time.Time) (*core.BlacklistEntry, error) {
	const query = `
		SELECT ip, reason, created_at, expires_at, active
		FROM ip_blacklist
		WHERE ip = $1 AND active AND expires_at > $2
	`
	var e core.BlacklistEntry
	err := s.pool.QueryRow(ctx, query, ip, now).Scan(&e.IP, &e.Reason, &e.CreatedAt, &e.ExpiresAt, &e.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) DeactivateBlacklistEntry(ctx context.Context, ip string) error {
	const query = `UPDATE ip_blacklist SET active = FALSE WHERE ip = $1`
	tag, err := s.pool.Exec(ctx, query, ip)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) ListBlacklist(ctx context.Context, now time.Time) ([]core.BlacklistEntry, error) {
	const query = `
		SELECT ip, reason, created_at, expires_at, active
		FROM ip_blacklist
		WHERE active AND expires_at > $1
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.BlacklistEntry
	for rows.Next() {
		var e core.BlacklistEntry
		if err := rows.Scan(&e.IP, &e.Reason, &e.CreatedAt, &e.ExpiresAt, &e.Active); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteExpiredBlacklist(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM ip_blacklist WHERE expires_at < $1`
	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
