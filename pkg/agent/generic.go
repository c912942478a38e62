package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/senarios/aris/pkg/models"
)

// GenericAgent is the minimal variant used when no domain agent is
// configured: it echoes the message back.
type GenericAgent struct {
	mu    sync.Mutex
	turns []models.ConversationTurn
}

var _ Agent = (*GenericAgent)(nil)

// NewGenericAgent creates the echo agent.
func NewGenericAgent() *GenericAgent {
	return &GenericAgent{}
}

// ProcessMessage echoes the inbound message.
func (a *GenericAgent) ProcessMessage(_ context.Context, message string) (Response, error) {
	reply := fmt.Sprintf("[generic] You said: %s", message)

	a.mu.Lock()
	a.turns = append(a.turns,
		models.ConversationTurn{Role: models.RoleUser, Text: message},
		models.ConversationTurn{Role: models.RoleAssistant, Text: reply})
	a.mu.Unlock()

	return Response{Text: reply, Data: map[string]any{}}, nil
}

// SetRuntimeOptions is a no-op for the generic agent.
func (a *GenericAgent) SetRuntimeOptions(Options) {}

// RecentMessages returns a copy of the conversation window.
func (a *GenericAgent) RecentMessages() []models.ConversationTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ConversationTurn, len(a.turns))
	copy(out, a.turns)
	return out
}
