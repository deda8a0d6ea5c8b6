package backlog

import (
	"strings"

	"github.com/sdlc-agency/agency/internal/types"
)

// Operation names a role-gated store operation.
type Operation string

const (
	OpCreate   Operation = "create"
	OpEdit     Operation = "edit"
	OpStatus   Operation = "status"
	OpDelete   Operation = "delete"
	OpQuestion Operation = "question"
)

var permissions = map[Operation][]types.Role{
	OpCreate:   {types.RolePO, types.RolePM},
	OpEdit:     {types.RolePO, types.RolePM, types.RoleTL},
	OpStatus:   {types.RolePO, types.RolePM, types.RoleTL, types.RoleDev, types.RoleQA},
	OpDelete:   {types.RolePO, types.RolePM},
	OpQuestion: {types.RolePO, types.RolePM, types.RoleTL, types.RoleDev, types.RoleQA},
}

// Allowed reports whether role may perform op. Operations outside the
// table are unrestricted.
func Allowed(op Operation, role types.Role) bool {
	roles, ok := permissions[op]
	if !ok {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// CheckPermission returns PermissionDenied when role may not perform op.
func CheckPermission(op Operation, role types.Role) error {
	if Allowed(op, role) {
		return nil
	}
	switch op {
	case OpCreate:
		return types.PermissionDeniedf("Permission denied: %s cannot create user stories. Only %s can.", role, joinRoles(permissions[op]))
	case OpEdit:
		return types.PermissionDeniedf("Permission denied: %s cannot edit user stories. Only %s can.", role, joinRoles(permissions[op]))
	case OpDelete:
		return types.PermissionDeniedf("Permission denied: %s cannot delete stories. Only %s can.", role, joinRoles(permissions[op]))
	case OpStatus:
		return types.PermissionDeniedf("Permission denied: %s cannot change status.", role)
	}
	return types.PermissionDeniedf("Permission denied.")
}

func joinRoles(roles []types.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
