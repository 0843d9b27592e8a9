package rbac

type Role string
type Action string

const (
	RoleClient      Role = "client"
	RoleCoordinator Role = "coordinator"
	RoleStaff       Role = "staff"
)

const (
	ActionAsk              Action = "assistant.ask"
	ActionReadWedding      Action = "wedding.read"
	ActionManageWedding    Action = "wedding.manage"
	ActionReviewNotes      Action = "notes.review"
	ActionHandleEscalation Action = "escalation.handle"
	ActionAnswerQuestion   Action = "questions.answer"
	ActionDeleteQuestion   Action = "questions.delete"
	ActionSearchKnowledge  Action = "knowledge.search"
	ActionExport           Action = "export"
	ActionSync             Action = "sync"
)

var coordinatorActions = map[Action]bool{
	ActionAsk:              true,
	ActionReadWedding:      true,
	ActionReviewNotes:      true,
	ActionHandleEscalation: true,
	ActionAnswerQuestion:   true,
	ActionSearchKnowledge:  true,
	ActionExport:           true,
}

// Can reports whether role may perform action. Wedding scoping for clients is
// checked separately with CanAccessWedding.
func Can(role Role, action Action) bool {
	switch role {
	case RoleStaff:
		return true
	case RoleCoordinator:
		return coordinatorActions[action]
	case RoleClient:
		return action == ActionAsk
	default:
		return false
	}
}

// CanAccessWedding restricts clients to the wedding named in their token.
func CanAccessWedding(role Role, tokenWeddingID, weddingID string) bool {
	if role != RoleClient {
		return role == RoleStaff || role == RoleCoordinator
	}
	return tokenWeddingID != "" && tokenWeddingID == weddingID
}

// Normalize maps unknown roles to client, the least privileged.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleClient, RoleCoordinator, RoleStaff:
		return Role(role)
	default:
		return RoleClient
	}
}
