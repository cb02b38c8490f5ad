package model

// Role is the coarse identity class carried in a token.
type Role string

const (
	RoleStudent  Role = "student"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Permission represents a string code for a specific operator action.
type Permission string

const (
	// PermissionBatchesRead allows viewing batch configuration.
	PermissionBatchesRead Permission = "batches:read"

	// PermissionBatchesWrite allows scheduling new batches.
	PermissionBatchesWrite Permission = "batches:write"

	// PermissionBatchesControl allows freezing, resuming and finishing batches.
	PermissionBatchesControl Permission = "batches:control"

	// PermissionAttemptsControl allows pausing, resuming, force-submitting and resetting attempts.
	PermissionAttemptsControl Permission = "attempts:control"

	// PermissionMonitorRead allows viewing the live roster and the event log.
	PermissionMonitorRead Permission = "monitor:read"
)

// AllPermissions is the permission set granted to admins.
var AllPermissions = []Permission{
	PermissionBatchesRead,
	PermissionBatchesWrite,
	PermissionBatchesControl,
	PermissionAttemptsControl,
	PermissionMonitorRead,
}

// DefaultPermissions returns the permissions a role carries when a token
// does not list them explicitly.
func DefaultPermissions(role Role) []Permission {
	switch role {
	case RoleAdmin:
		return AllPermissions
	case RoleOperator:
		return []Permission{
			PermissionBatchesRead,
			PermissionBatchesControl,
			PermissionAttemptsControl,
			PermissionMonitorRead,
		}
	default:
		return nil
	}
}
