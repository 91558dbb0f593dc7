package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleReporter Role = "reporter"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead       Action = "read"
	ActionReport     Action = "report"
	ActionTransition Action = "transition"
	ActionAdmin      Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReporter:
		return action == ActionRead || action == ActionReport || action == ActionTransition
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleReporter, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
