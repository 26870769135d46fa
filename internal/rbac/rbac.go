package rbac

import "strings"

type Role string
type Action string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionPost     Action = "post"
	ActionReply    Action = "reply"
	ActionVote     Action = "vote"
	ActionModerate Action = "moderate"
)

// Can reports whether role may perform action. Every campus member takes part
// in the forum; only admins run maintenance.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStudent, RoleFaculty:
		return action == ActionRead || action == ActionPost || action == ActionReply || action == ActionVote
	default:
		return false
	}
}

// Normalize maps a token's role claim onto a known role; anything else is
// treated as a student.
func Normalize(role string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(role))); r {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return r
	default:
		return RoleStudent
	}
}
