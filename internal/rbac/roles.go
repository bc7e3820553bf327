package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsValidRole(role string) bool {
	switch role {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanViewUser reports whether actorID may read reports about targetID.
// Users see their own records; admins see everyone's.
func CanViewUser(actorID, actorRole, targetID string) bool {
	if targetID == "" {
		return false
	}
	return actorID == targetID || IsAdmin(actorRole)
}
