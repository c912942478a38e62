package models

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

// Session statuses. The core never destroys sessions; archival is external.
const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
	SessionStatusExpired  SessionStatus = "expired"
)

// Session is a user-scoped conversation bound to one client connection.
type Session struct {
	ID             string
	UserID         string
	AgentType      string
	ModelID        string
	Status         SessionStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
	Metadata       map[string]any
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one entry in the recent-window buffer kept per
// session for planner context. The full history is not persisted by the
// core.
type ConversationTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// MemoryItem is a durable key/value entry in session memory.
type MemoryItem struct {
	SessionID      string
	Key            string
	ToolName       string
	Tags           []string
	Value          any
	SizeBytes      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
	AccessCount    int
	LastAccessedAt time.Time
}

// ToolResultKey returns the canonical memory key for a tool_call action's
// result.
func ToolResultKey(actionID string) string {
	return "tool_result_" + actionID
}
