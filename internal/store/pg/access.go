package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/streamgate/streamgate/internal/store/core"
)

func (s *Store) GetUserRole(ctx context.Context, userID string) (*core.UserRole, error) {
	const query = `SELECT user_id, role, updated_at FROM user_roles WHERE user_id = $1`
	var ur core.UserRole
	err := s.pool.QueryRow(ctx, query, userID).Scan(&ur.UserID, &ur.Role, &ur.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ur, nil
}

func (s *Store) UpdateUserRole(ctx context.Context, userID, role string, at time.Time) error {
	const query = `
		INSERT INTO user_roles (user_id, role, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET role = $2, updated_at = $3
	`
	_, err := s.pool.Exec(ctx, query, userID, role, at)
	return err
}

func (s *Store) ListUserRoles(ctx context.Context, limit, offset int) ([]core.UserRole, error) {
	const query = `
		SELECT user_id, role, updated_at FROM user_roles
		ORDER BY user_id LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.UserRole
	for rows.Next() {
		var ur core.UserRole
		if err := rows.Scan(&ur.UserID, &ur.Role, &ur.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ur)
	}
	return out, rows.Err()
}

func (s *Store) ListGrants(ctx context.Context, userID string) ([]core.PermissionGrant, error) {
	const query = `
		SELECT user_id, permission, is_granted, granted_by, granted_at
		FROM permission_grants
		WHERE user_id = $1
		ORDER BY granted_at
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.PermissionGrant
	for rows.Next() {
		var g core.PermissionGrant
		if err := rows.Scan(&g.UserID, &g.Permission, &g.IsGranted, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpsertGrant is idempotent: re-granting or re-revoking the same permission
// just refreshes the row.
func (s *Store) UpsertGrant(ctx context.Context, g *core.PermissionGrant) error {
	const query = `
		INSERT INTO permission_grants (user_id, permission, is_granted, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, permission)
		DO UPDATE SET is_granted = $3, granted_by = $4, granted_at = $5
	`
	_, err := s.pool.Exec(ctx, query, g.UserID, g.Permission, g.IsGranted, g.GrantedBy, g.GrantedAt)
	return err
}
