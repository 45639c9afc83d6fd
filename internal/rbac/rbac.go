package rbac

type Role string
type Action string

const (
	RoleViewer      Role = "viewer"
	RoleStakeholder Role = "stakeholder"
	RoleDeputy      Role = "deputy"
	RoleOwner       Role = "owner"
)

const (
	ActionRead       Action = "read"
	ActionVote       Action = "vote"
	ActionCommit     Action = "commit"
	ActionTransition Action = "transition"
	ActionManage     Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleDeputy:
		return action == ActionRead || action == ActionVote || action == ActionCommit || action == ActionTransition
	case RoleStakeholder:
		return action == ActionRead || action == ActionVote || action == ActionCommit
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleStakeholder, RoleDeputy, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}

// PlanningRole derives a user's effective role on a planning from the
// owner, deputy, and stakeholder relations.
func PlanningRole(ownerID, deputyID, userID string, isStakeholder bool) Role {
	switch {
	case userID == ownerID:
		return RoleOwner
	case deputyID != "" && userID == deputyID:
		return RoleDeputy
	case isStakeholder:
		return RoleStakeholder
	default:
		return RoleViewer
	}
}
