package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamgate/streamgate/internal/audit"
	"github.com/streamgate/streamgate/internal/store/core"
	"github.com/streamgate/streamgate/internal/store/memory"
)

func newTestAccess(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return NewService(repo, audit.NewRecorder(repo), time.Minute), repo
}

func mustHave(t *testing.T, s *Service, userID, perm string, want bool) {
	t.Helper()
	ok, err := s.HasPermission(context.Background(), userID, perm)
	if err != nil {
		t.Fatalf("HasPermission(%q, %q) err: %v", userID, perm, err)
	}
	if ok != want {
		t.Fatalf("HasPermission(%q, %q) = %v, want %v", userID, perm, ok, want)
	}
}

func TestAnonymousIsGuest(t *testing.T) {
	s, _ := newTestAccess(t)
	mustHave(t, s, "", "content:read", true)
	mustHave(t, s, "", "content:stream", false)
}

func TestUnknownUserIsGuest(t *testing.T) {
	s, _ := newTestAccess(t)
	mustHave(t, s, "never-seen", "content:read", true)
	mustHave(t, s, "never-seen", "content:stream", false)
}

func TestRoleDefaults(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	if err := s.UpdateUserRole(ctx, "u-1", RoleUser, "admin-1"); err != nil {
		t.Fatalf("UpdateUserRole err: %v", err)
	}
	mustHave(t, s, "u-1", "content:stream", true)
	mustHave(t, s, "u-1", "profile:write", true)
	mustHave(t, s, "u-1", "content:moderate", false)
	mustHave(t, s, "u-1", PermAdmin, false)

	if err := s.UpdateUserRole(ctx, "m-1", RoleModerator, "admin-1"); err != nil {
		t.Fatalf("UpdateUserRole err: %v", err)
	}
	mustHave(t, s, "m-1", "content:moderate", true)
	mustHave(t, s, "m-1", "users:read", true)
	mustHave(t, s, "m-1", PermAdmin, false)
}

func TestAdminWildcard(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	if err := s.UpdateUserRole(ctx, "a-1", RoleAdmin, "root"); err != nil {
		t.Fatalf("UpdateUserRole err: %v", err)
	}
	mustHave(t, s, "a-1", "content:stream", true)
	mustHave(t, s, "a-1", "anything:whatever", true)
	mustHave(t, s, "a-1", PermAdmin, true)

	if err := s.RequireAdmin(ctx, "a-1", "10.0.0.1"); err != nil {
		t.Fatalf("RequireAdmin err: %v", err)
	}
}

func TestResourceWildcardGrant(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	if err := s.Grant(ctx, "u-1", "content:*", "admin-1"); err != nil {
		t.Fatalf("Grant err: %v", err)
	}
	mustHave(t, s, "u-1", "content:read", true)
	mustHave(t, s, "u-1", "content:stream", true)
	mustHave(t, s, "u-1", "content:moderate", true)
	mustHave(t, s, "u-1", "users:read", false)
}

func TestExplicitRevocationBeatsDefaults(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	if err := s.UpdateUserRole(ctx, "u-1", RoleUser, "admin-1"); err != nil {
		t.Fatalf("UpdateUserRole err: %v", err)
	}
	mustHave(t, s, "u-1", "content:stream", true)

	if err := s.Revoke(ctx, "u-1", "content:stream", "admin-1"); err != nil {
		t.Fatalf("Revoke err: %v", err)
	}
	mustHave(t, s, "u-1", "content:stream", false)
	// Untouched defaults survive the revocation.
	mustHave(t, s, "u-1", "content:read", true)
}

func TestRevocationBeatsWildcard(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	if err := s.Grant(ctx, "u-1", "content:*", "admin-1"); err != nil {
		t.Fatalf("Grant err: %v", err)
	}
	if err := s.Revoke(ctx, "u-1", "content:moderate", "admin-1"); err != nil {
		t.Fatalf("Revoke err: %v", err)
	}
	mustHave(t, s, "u-1", "content:moderate", false)
	mustHave(t, s, "u-1", "content:stream", true)
}

func TestGrantFlipsPriorRevocation(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	if err := s.Revoke(ctx, "u-1", "content:read", "admin-1"); err != nil {
		t.Fatalf("Revoke err: %v", err)
	}
	mustHave(t, s, "u-1", "content:read", false)

	if err := s.Grant(ctx, "u-1", "content:read", "admin-1"); err != nil {
		t.Fatalf("Grant err: %v", err)
	}
	mustHave(t, s, "u-1", "content:read", true)
}

func TestGrantRejectsMalformedPermission(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	for _, perm := range []string{"", "noseparator", ":action", "resource:"} {
		if err := s.Grant(ctx, "u-1", perm, "admin-1"); err == nil {
			t.Fatalf("Grant(%q) should fail", perm)
		}
	}
}

func TestUpdateUserRole_InvalidRole(t *testing.T) {
	s, _ := newTestAccess(t)
	err := s.UpdateUserRole(context.Background(), "u-1", "superuser", "admin-1")
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("want ErrInvalidRole, got %v", err)
	}
}

func TestRoleChangeInvalidatesCache(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	// Prime the cache with the guest resolution.
	mustHave(t, s, "u-1", "content:stream", false)

	if err := s.UpdateUserRole(ctx, "u-1", RoleUser, "admin-1"); err != nil {
		t.Fatalf("UpdateUserRole err: %v", err)
	}
	mustHave(t, s, "u-1", "content:stream", true)
}

func TestRequirePermission_RecordsDenial(t *testing.T) {
	s, repo := newTestAccess(t)
	ctx := context.Background()

	err := s.RequirePermission(ctx, "u-1", "10.0.0.1", "content:stream")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("want ErrPermissionDenied, got %v", err)
	}

	events, err := repo.QuerySecurityEvents(ctx, core.EventFilter{EventType: audit.EventAccessDenied})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("access_denied events = %d, want 1", len(events))
	}
	if events[0].UserID != "u-1" || events[0].ClientIP != "10.0.0.1" {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestRequireAdmin_RecordsHighSeverityDenial(t *testing.T) {
	s, repo := newTestAccess(t)
	ctx := context.Background()

	if err := s.RequireAdmin(ctx, "u-1", "10.0.0.1"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("want ErrPermissionDenied, got %v", err)
	}
	events, err := repo.QuerySecurityEvents(ctx, core.EventFilter{EventType: audit.EventAdminAccessDenied})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(events) != 1 || events[0].Severity != core.SeverityHigh {
		t.Fatalf("events = %+v", events)
	}
}

func TestGetUserPermissions_MarksDenials(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	if err := s.UpdateUserRole(ctx, "u-1", RoleUser, "admin-1"); err != nil {
		t.Fatalf("UpdateUserRole err: %v", err)
	}
	if err := s.Revoke(ctx, "u-1", "profile:write", "admin-1"); err != nil {
		t.Fatalf("Revoke err: %v", err)
	}

	role, perms, err := s.GetUserPermissions(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetUserPermissions err: %v", err)
	}
	if role != RoleUser {
		t.Fatalf("role = %q", role)
	}
	var sawDenial, sawDefault bool
	for _, p := range perms {
		switch p {
		case "-profile:write":
			sawDenial = true
		case "content:stream":
			sawDefault = true
		}
	}
	if !sawDenial || !sawDefault {
		t.Fatalf("perms = %v", perms)
	}
}

func TestListUsers(t *testing.T) {
	s, _ := newTestAccess(t)
	ctx := context.Background()

	for _, id := range []string{"u-1", "u-2", "u-3"} {
		if err := s.UpdateUserRole(ctx, id, RoleUser, "admin-1"); err != nil {
			t.Fatalf("UpdateUserRole err: %v", err)
		}
	}

	users, err := s.ListUsers(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListUsers err: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("page size = %d, want 2", len(users))
	}
	rest, err := s.ListUsers(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListUsers offset err: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("second page = %d, want 1", len(rest))
	}
}
