// Package access holds the workspace role hierarchy and the permission checks
// derived from it.
package access

import (
	"errors"

	"github.com/jun/gophsync/internal/model"
)

// ErrForbidden is returned when an authenticated user lacks the membership
// or role an operation needs.
var ErrForbidden = errors.New("forbidden")

// Weight orders roles: admin > editor > viewer. Unknown roles weigh 0.
func Weight(r model.Role) int {
	switch r {
	case model.RoleAdmin:
		return 3
	case model.RoleEditor:
		return 2
	case model.RoleViewer:
		return 1
	}
	return 0
}

// CanWrite reports whether the role may change collections.
func CanWrite(r model.Role) bool {
	return r == model.RoleAdmin || r == model.RoleEditor
}

// CanInvite reports whether a member may issue invites. Admins always can;
// anyone else needs the explicit flag.
func CanInvite(r model.Role, canInviteFlag bool) bool {
	return r == model.RoleAdmin || (canInviteFlag && Weight(r) > 0)
}

// CanAssignRole reports whether actor may set a member's role to target.
// Only admins grant roles, including roles equal to or below their own.
func CanAssignRole(actor, target model.Role) bool {
	return actor == model.RoleAdmin && Weight(target) > 0
}

// CanManageMember reports whether actor may edit or remove a member holding
// target. Admins may manage anyone up to and including other admins.
func CanManageMember(actor, target model.Role) bool {
	return actor == model.RoleAdmin && Weight(target) <= Weight(actor)
}
