package access

import (
	"fmt"
	"strings"
)

// Roles form a strict hierarchy: each role inherits the default
// permissions of the ones below it.
const (
	RoleGuest     = "guest"
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// PermAdmin gates the administrative API surface.
const PermAdmin = "system:admin"

var roleRank = map[string]int{
	RoleGuest:     0,
	RoleUser:      1,
	RoleModerator: 2,
	RoleAdmin:     3,
}

func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// Roles returns all known roles ordered from least to most privileged.
func Roles() []string {
	return []string{RoleGuest, RoleUser, RoleModerator, RoleAdmin}
}

var roleDefaults = map[string][]string{
	RoleGuest: {
		"content:read",
	},
	RoleUser: {
		"content:read",
		"content:stream",
		"profile:read",
		"profile:write",
	},
	RoleModerator: {
		"content:read",
		"content:stream",
		"content:write",
		"content:moderate",
		"profile:read",
		"profile:write",
		"users:read",
	},
	RoleAdmin: {
		"*:*",
		PermAdmin,
	},
}

// DefaultPermissions returns a copy of the built-in permission set for
// a role. Unknown roles resolve to guest.
func DefaultPermissions(role string) []string {
	defaults, ok := roleDefaults[role]
	if !ok {
		defaults = roleDefaults[RoleGuest]
	}
	out := make([]string, len(defaults))
	copy(out, defaults)
	return out
}

// ValidPermission checks the resource:action shape. Either part may be
// the wildcard "*".
func ValidPermission(perm string) error {
	resource, action, ok := strings.Cut(perm, ":")
	if !ok || resource == "" || action == "" {
		return fmt.Errorf("permission %q must have the form resource:action", perm)
	}
	return nil
}

// matches reports whether a granted permission covers the requested
// one. Matchers run in order: exact, resource wildcard, global
// wildcard.
func matches(granted, requested string) bool {
	if granted == requested {
		return true
	}
	if granted == "*:*" {
		return true
	}
	resource, _, ok := strings.Cut(granted, ":")
	if !ok {
		return false
	}
	if granted == resource+":*" {
		reqResource, _, ok := strings.Cut(requested, ":")
		return ok && reqResource == resource
	}
	return false
}

func matchesAny(granted []string, requested string) bool {
	for _, g := range granted {
		if matches(g, requested) {
			return true
		}
	}
	return false
}
