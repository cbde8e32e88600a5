package types

import (
	"fmt"
	"strings"
)

// Role is the identity class a principal holds.
// The set of roles is closed, new roles need a code change.
type Role string

// all known roles, in declaration order
const (
	Admin        Role = "ADMIN"
	Doctor       Role = "DOCTOR"
	Pharmacist   Role = "PHARMACIST"
	Receptionist Role = "RECEPTIONIST"
	Patient      Role = "PATIENT"
)

var allRoles = []Role{Admin, Doctor, Pharmacist, Receptionist, Patient}

// AllRoles returns every known role in declaration order
func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// Valid tells if r is one of the known roles
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// ParseRole parses a role name from the outside world, case is ignored
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Principal is an authenticated actor, only its role is ever read
type Principal interface {
	Role() Role
}

// RolePrincipal is the simplest Principal: nothing but a role
type RolePrincipal Role

// Role returns the role it holds
func (p RolePrincipal) Role() Role {
	return Role(p)
}
