package auth

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermCatalogRead      Permission = "catalog:read"
	PermAutomationRun    Permission = "automation:run"
	PermAutomationManage Permission = "automation:manage"
	PermCredentialManage Permission = "credential:manage"
	PermWorkflowClone    Permission = "workflow:clone"
	PermCatalogSync      Permission = "catalog:sync"
	PermAuditRead        Permission = "audit:read"
	PermUserManage       Permission = "user:manage"
)

// rolePermissions maps each role to its granted permissions.
// Resource ownership (a user's own instances and records) is enforced by
// the services, not here.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermCatalogRead,
		PermAutomationRun,
		PermAutomationManage,
		PermCredentialManage,
		PermWorkflowClone,
	},
	RoleAdmin: {
		PermCatalogRead,
		PermAutomationRun,
		PermAutomationManage,
		PermCredentialManage,
		PermWorkflowClone,
		PermCatalogSync,
		PermAuditRead,
		PermUserManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
