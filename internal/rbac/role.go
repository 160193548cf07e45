// Package rbac defines the ordered customer roles used to guard the admin
// surface.
package rbac

import (
	"fmt"
	"strings"
)

// Role is a customer role. Roles form a total order:
// user < admin < super_admin.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var ranks = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// Roles lists every role from lowest to highest.
func Roles() []Role {
	return []Role{RoleUser, RoleAdmin, RoleSuperAdmin}
}

// Parse converts a string into a known role.
func Parse(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ranks[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := ranks[r]
	return ok
}

// Rank returns the position of the role in the hierarchy. Unknown roles rank 0.
func (r Role) Rank() int {
	return ranks[r]
}

// Compare returns -1, 0 or 1 when r is below, equal to or above other.
func (r Role) Compare(other Role) int {
	switch a, b := r.Rank(), other.Rank(); {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r grants everything min grants. Unknown roles
// never satisfy a requirement.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Compare(min) >= 0
}

// CanAssign reports whether a holder of r may give target to another
// customer. Only super admins assign roles and never above their own.
func (r Role) CanAssign(target Role) bool {
	return r == RoleSuperAdmin && target.Valid() && r.AtLeast(target)
}

func (r Role) String() string {
	return string(r)
}
