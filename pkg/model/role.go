package model

// Role represents a session's permission level.
type Role int

const (
	RoleUser  Role = iota // Authenticated with the general credential
	RoleAdmin             // Authenticated with the admin credential: kick, ban
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role.
func ParseRole(s string) Role {
	if s == "admin" {
		return RoleAdmin
	}
	return RoleUser
}

// RoleFor maps the handshake admin flag onto a Role.
func RoleFor(admin bool) Role {
	if admin {
		return RoleAdmin
	}
	return RoleUser
}

// Valid returns true if the role is a recognised value (User or Admin).
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}
