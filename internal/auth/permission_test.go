package auth

import "testing"

func TestHasLevel(t *testing.T) {
	cases := []struct {
		role  Role
		level Level
		want  bool
	}{
		{RolePublic, LevelPublic, true},
		{RolePublic, LevelAgent, false},
		{RolePublic, LevelAdmin, false},
		{RolePublic, LevelAdminPin, false},
		{RoleAgent, LevelPublic, true},
		{RoleAgent, LevelAgent, true},
		{RoleAgent, LevelAdmin, false},
		{RoleAgent, LevelAdminPin, false},
		{RoleAdmin, LevelPublic, true},
		{RoleAdmin, LevelAgent, true},
		{RoleAdmin, LevelAdmin, true},
		{RoleAdmin, LevelAdminPin, true},
	}
	for _, tc := range cases {
		if got := HasLevel(tc.role, tc.level); got != tc.want {
			t.Errorf("HasLevel(%q, %q) = %v, want %v", tc.role, tc.level, got, tc.want)
		}
	}
}

func TestHasLevel_UnknownRole(t *testing.T) {
	if HasLevel(Role("superuser"), LevelPublic) {
		t.Error("unknown roles must grant nothing")
	}
	// Case-sensitive: no coercion.
	if HasLevel(Role("Admin"), LevelAdmin) {
		t.Error("role comparison must be case-sensitive")
	}
}

func TestTempRegistrationAllowed(t *testing.T) {
	if !TempRegistrationAllowed("/agents/register") {
		t.Error("registration path must be allowed")
	}
	for _, path := range []string{"/agents", "/agents/x", "/auth/login", "/public/discover", ""} {
		if TempRegistrationAllowed(path) {
			t.Errorf("path %q must not be allowed for temp tokens", path)
		}
	}
}
