// Package llm provides the Converse primitive used by the planner and the
// executioner, backed by the AWS Bedrock Converse API.
package llm

import (
	"context"

	"github.com/senarios/aris/pkg/models"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversational message.
type Message struct {
	Role    string
	Content string
}

// ToolExecutor executes a tool on the model's behalf inside the
// request/execute/resume loop.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, input map[string]any) (any, error)
}

// DefaultMaxRecursions bounds the tool-use loop when the caller does not
// specify a limit.
const DefaultMaxRecursions = 5

// ConverseInput describes one LLM call.
type ConverseInput struct {
	ModelID     string
	Messages    []Message
	System      string
	Temperature float64

	// Tools and ToolExecutor enable the "model may request tool use;
	// orchestrator executes; model resumes" loop. Both nil = plain call.
	Tools        []models.ToolDescriptor
	ToolExecutor ToolExecutor

	// MaxRecursions bounds the tool loop. Zero means DefaultMaxRecursions.
	MaxRecursions int
}

// Client is the LLM collaborator contract.
type Client interface {
	Converse(ctx context.Context, input ConverseInput) (string, error)
}

// TurnsToMessages converts a conversation window into LLM messages.
func TurnsToMessages(turns []models.ConversationTurn) []Message {
	out := make([]Message, 0, len(turns))
	for _, t := range turns {
		role := RoleUser
		if t.Role == models.RoleAssistant {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: t.Text})
	}
	return out
}
