package identity

import "strings"

// Role is the caller role resolved by the external identity provider.
type Role string

const (
	RolePatron Role = "PATRON"
	RoleAdmin  Role = "ADMIN"
)

// Principal is an authenticated caller as resolved by the identity provider.
// It is passed explicitly into every operation; no ambient session state is
// consulted anywhere in the codebase.
type Principal struct {
	ID    string
	Email string
	Role  Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func ParseRole(raw string) Role {
	if strings.EqualFold(strings.TrimSpace(raw), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RolePatron
}
