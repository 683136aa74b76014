package auth

import "slices"

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if this role meets or exceeds the minimum required role
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	return r.level() >= minRole.level() && minRole.IsValid()
}

func (r UserRole) level() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	default:
		return 0
	}
}

// ParseRole returns the role for s, falling back to RoleUser
func ParseRole(s string) UserRole {
	r := UserRole(s)
	if r.IsValid() {
		return r
	}
	return RoleUser
}

// HasRole reports whether the principal holds role, or one above it
func HasRole(p Principal, role UserRole) bool {
	if p == nil {
		return false
	}
	roles := p.Roles()
	if slices.Contains(roles, string(role)) {
		return true
	}
	for _, r := range roles {
		if UserRole(r).IsAtLeast(role) {
			return true
		}
	}
	return false
}
