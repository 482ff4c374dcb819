package model

import "encoding/json"

// Member roles inside a group.
const (
	RoleLeader    = "leader"
	RoleAssistant = "assistant"
	RoleMember    = "member"
)

type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type Group struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Ministry   string            `json:"ministry,omitempty"`
	MeetingDay string            `json:"meeting_day,omitempty"`
	Members    map[string]Member `json:"members"`
}

// ValidRole reports whether r is one of the known member roles.
func ValidRole(r string) bool {
	switch r {
	case RoleLeader, RoleAssistant, RoleMember:
		return true
	}
	return false
}

// Event types that are not scoped to a resource type.
const (
	EventPing              = "ping"
	EventPong              = "pong"
	EventMemberAdded       = "member_added"
	EventMemberRemoved     = "member_removed"
	EventMemberRoleUpdated = "member_role_updated"
)

// Resource-scoped event type names, e.g. "groups_created".
func EventCreated(resource string) string { return resource + "_created" }
func EventUpdated(resource string) string { return resource + "_updated" }
func EventDeleted(resource string) string { return resource + "_deleted" }

// Envelope is one notification on the event stream. Type is always present,
// the remaining fields depend on it.
type Envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	ID       string          `json:"id,omitempty"`
	GroupID  string          `json:"group_id,omitempty"`
	Member   *Member         `json:"member,omitempty"`
	MemberID string          `json:"member_id,omitempty"`
	Role     string          `json:"role,omitempty"`
}

type Wire struct {
	TX chan Envelope
}

func NewWire() Wire {
	return Wire{
		TX: make(chan Envelope),
	}
}
