package access

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		granted, requested string
		want               bool
	}{
		{"content:read", "content:read", true},
		{"content:read", "content:stream", false},
		{"content:*", "content:stream", true},
		{"content:*", "users:read", false},
		{"*:*", "anything:at-all", true},
		{"content:read", "content", false},
		{"garbage", "content:read", false},
	}
	for _, c := range cases {
		if got := matches(c.granted, c.requested); got != c.want {
			t.Errorf("matches(%q, %q) = %v, want %v", c.granted, c.requested, got, c.want)
		}
	}
}

func TestDefaultPermissionsAreCopies(t *testing.T) {
	a := DefaultPermissions(RoleGuest)
	a[0] = "mutated:entry"
	b := DefaultPermissions(RoleGuest)
	if b[0] != "content:read" {
		t.Fatalf("defaults shared backing array: %v", b)
	}
}

func TestDefaultPermissions_UnknownRoleIsGuest(t *testing.T) {
	got := DefaultPermissions("nonsense")
	want := DefaultPermissions(RoleGuest)
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("unknown role = %v, want guest defaults %v", got, want)
	}
}

func TestValidPermission(t *testing.T) {
	for _, ok := range []string{"content:read", "content:*", "*:*"} {
		if err := ValidPermission(ok); err != nil {
			t.Errorf("ValidPermission(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "content", ":read", "content:"} {
		if err := ValidPermission(bad); err == nil {
			t.Errorf("ValidPermission(%q) should fail", bad)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range Roles() {
		if !ValidRole(r) {
			t.Errorf("ValidRole(%q) = false", r)
		}
	}
	if ValidRole("superuser") {
		t.Error("ValidRole(superuser) = true")
	}
}
