package domain

// Role represents what a session is allowed to do in an assembly
type Role string

const (
	RoleModerator      Role = "MODERATOR"
	RoleRepresentative Role = "REPRESENTATIVE"
	RoleObserver       Role = "OBSERVER"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsModerator returns true if this role controls questions
func (r Role) IsModerator() bool {
	return r == RoleModerator
}

// ParseRole validates a raw role string. Empty defaults to representative.
func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case "":
		return RoleRepresentative, nil
	case RoleModerator, RoleRepresentative, RoleObserver:
		return r, nil
	default:
		return "", ErrInvalidIdentity
	}
}
