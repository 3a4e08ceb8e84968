package auth

// Level is one step of the permission hierarchy. Levels nest:
// public ⊂ agent ⊂ admin ⊂ admin_pin.
type Level string

const (
	LevelPublic   Level = "public"
	LevelAgent    Level = "agent"
	LevelAdmin    Level = "admin"
	LevelAdminPin Level = "admin_pin"
)

// Role names a caller identity class.
type Role string

const (
	RolePublic Role = "public"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

// rolePermissions is the full role → level-set mapping. Comparison is
// case-sensitive string equality; no coercion.
var rolePermissions = map[Role][]Level{
	RolePublic: {LevelPublic},
	RoleAgent:  {LevelPublic, LevelAgent},
	RoleAdmin:  {LevelPublic, LevelAgent, LevelAdmin, LevelAdminPin},
}

// HasLevel reports whether role grants access at the required level.
func HasLevel(role Role, required Level) bool {
	for _, l := range rolePermissions[role] {
		if l == required {
			return true
		}
	}
	return false
}

// registrationPaths are the only endpoints a temp-registration token may
// reach. The temp token exists to complete one enrollment, nothing else.
var registrationPaths = map[string]struct{}{
	"/agents/register": {},
}

// TempRegistrationAllowed reports whether a temp-registration token may call
// the given request path.
func TempRegistrationAllowed(path string) bool {
	_, ok := registrationPaths[path]
	return ok
}
