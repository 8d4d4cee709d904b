package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/observability/logger"
	"github.com/streamgate/streamgate/internal/store/core"
)

var (
	ErrPermissionDenied = errors.New("access: permission denied")
	ErrInvalidRole      = errors.New("access: invalid role")
)

// effectiveSet is the resolved permission state for one user. Denied
// entries are explicit revocations and beat everything else, including
// role defaults and wildcards.
type effectiveSet struct {
	Role    string
	Allowed []string
	Denied  []string
}

func (s effectiveSet) has(perm string) bool {
	if matchesAny(s.Denied, perm) {
		return false
	}
	return matchesAny(s.Allowed, perm)
}

// Service resolves role-based permissions with per-user overrides.
// Resolution fails closed: a store error denies access.
type Service struct {
	repo  core.Repository
	rec   *audit.Recorder
	cache *gocache.Cache
}

func NewService(repo core.Repository, rec *audit.Recorder, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{
		repo:  repo,
		rec:   rec,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// resolve builds the effective permission set for a user. Anonymous
// users (empty ID) resolve to guest defaults without touching the
// store.
func (s *Service) resolve(ctx context.Context, userID string) (effectiveSet, error) {
	if userID == "" {
		return effectiveSet{Role: RoleGuest, Allowed: DefaultPermissions(RoleGuest)}, nil
	}
	if v, ok := s.cache.Get(userID); ok {
		return v.(effectiveSet), nil
	}

	role := RoleGuest
	row, err := s.repo.GetUserRole(ctx, userID)
	switch {
	case err == nil:
		role = row.Role
	case errors.Is(err, core.ErrNotFound):
		// no row yet, keep guest
	default:
		return effectiveSet{}, fmt.Errorf("access: load role for %s: %w", userID, err)
	}

	grants, err := s.repo.ListGrants(ctx, userID)
	if err != nil {
		return effectiveSet{}, fmt.Errorf("access: load grants for %s: %w", userID, err)
	}

	set := effectiveSet{Role: role, Allowed: DefaultPermissions(role)}
	for _, g := range grants {
		if g.IsGranted {
			set.Allowed = append(set.Allowed, g.Permission)
		} else {
			set.Denied = append(set.Denied, g.Permission)
		}
	}

	s.cache.SetDefault(userID, set)
	return set, nil
}

func (s *Service) invalidate(userID string) {
	s.cache.Delete(userID)
}

// GetUserPermissions returns the user's role and resolved permission
// entries. Denied entries are included with a "-" prefix so callers can
// display overrides.
func (s *Service) GetUserPermissions(ctx context.Context, userID string) (string, []string, error) {
	set, err := s.resolve(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	perms := make([]string, 0, len(set.Allowed)+len(set.Denied))
	perms = append(perms, set.Allowed...)
	for _, d := range set.Denied {
		perms = append(perms, "-"+d)
	}
	return set.Role, perms, nil
}

// HasPermission reports whether the user may perform the requested
// action. An empty userID is treated as an anonymous guest.
func (s *Service) HasPermission(ctx context.Context, userID, perm string) (bool, error) {
	set, err := s.resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.has(perm), nil
}

// RequirePermission is HasPermission with an audit trail: every denial
// is recorded as an access_denied event.
func (s *Service) RequirePermission(ctx context.Context, userID, clientIP, perm string) error {
	ok, err := s.HasPermission(ctx, userID, perm)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	metrics.AccessDenials.WithLabelValues(perm).Inc()
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventAccessDenied,
		Severity: core.SeverityMedium,
		UserID:   userID,
		ClientIP: clientIP,
		Details:  map[string]any{"permission": perm},
	})
	return ErrPermissionDenied
}

// RequireAdmin gates the admin surface. Denials are recorded at high
// severity since they indicate probing of privileged endpoints.
func (s *Service) RequireAdmin(ctx context.Context, userID, clientIP string) error {
	ok, err := s.HasPermission(ctx, userID, PermAdmin)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	metrics.AccessDenials.WithLabelValues(PermAdmin).Inc()
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventAdminAccessDenied,
		Severity: core.SeverityHigh,
		UserID:   userID,
		ClientIP: clientIP,
	})
	return ErrPermissionDenied
}

// Grant adds a per-user permission on top of the role defaults. The
// upsert is idempotent and flips a prior revocation of the same
// permission.
func (s *Service) Grant(ctx context.Context, userID, perm, grantedBy string) error {
	if err := ValidPermission(perm); err != nil {
		return err
	}
	g := &core.PermissionGrant{
		UserID:     userID,
		Permission: perm,
		IsGranted:  true,
		GrantedBy:  grantedBy,
		GrantedAt:  time.Now().UTC(),
	}
	if err := s.repo.UpsertGrant(ctx, g); err != nil {
		return fmt.Errorf("access: grant %s to %s: %w", perm, userID, err)
	}
	s.invalidate(userID)
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventPermissionGranted,
		Severity: core.SeverityMedium,
		UserID:   userID,
		Details:  map[string]any{"permission": perm, "granted_by": grantedBy},
	})
	return nil
}

// Revoke records an explicit denial of a permission. Revocations win
// over role defaults and wildcard grants.
func (s *Service) Revoke(ctx context.Context, userID, perm, revokedBy string) error {
	if err := ValidPermission(perm); err != nil {
		return err
	}
	g := &core.PermissionGrant{
		UserID:     userID,
		Permission: perm,
		IsGranted:  false,
		GrantedBy:  revokedBy,
		GrantedAt:  time.Now().UTC(),
	}
	if err := s.repo.UpsertGrant(ctx, g); err != nil {
		return fmt.Errorf("access: revoke %s from %s: %w", perm, userID, err)
	}
	s.invalidate(userID)
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventPermissionRevoked,
		Severity: core.SeverityMedium,
		UserID:   userID,
		Details:  map[string]any{"permission": perm, "revoked_by": revokedBy},
	})
	return nil
}

// UpdateUserRole moves a user to a new role and drops their cached
// permission set.
func (s *Service) UpdateUserRole(ctx context.Context, userID, role, changedBy string) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	oldRole := RoleGuest
	if row, err := s.repo.GetUserRole(ctx, userID); err == nil {
		oldRole = row.Role
	}
	if err := s.repo.UpdateUserRole(ctx, userID, role, time.Now().UTC()); err != nil {
		return fmt.Errorf("access: set role %s for %s: %w", role, userID, err)
	}
	s.invalidate(userID)
	logger.From(ctx).Info("user role updated",
		logger.Layer("service"),
		logger.Component("access"),
		logger.UserID(userID),
		logger.Role(role),
	)
	s.rec.Record(ctx, audit.Event{
		Type:     audit.EventRoleChanged,
		Severity: core.SeverityHigh,
		UserID:   userID,
		Details:  map[string]any{"old_role": oldRole, "new_role": role, "changed_by": changedBy},
	})
	return nil
}

// ListUsers pages through the stored role assignments.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]core.UserRole, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListUserRoles(ctx, limit, offset)
}

// AuditLog exposes the security event trail for the admin API.
func (s *Service) AuditLog(ctx context.Context, f core.EventFilter) ([]core.SecurityEvent, error) {
	return s.rec.Query(ctx, f)
}
