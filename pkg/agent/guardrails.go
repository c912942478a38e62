package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/senarios/aris/pkg/config"
	"github.com/senarios/aris/pkg/llm"
	"github.com/senarios/aris/pkg/models"
)

// Guardrail gates clearly irrelevant queries before planning. Enabled
// per-request by the client.
type Guardrail interface {
	IsRelevant(ctx context.Context, message string, turns []models.ConversationTurn) bool
}

// GuardrailMessage is the canned refusal for out-of-scope queries.
func GuardrailMessage() string {
	return "I'm focused on helping with manufacturing operations, production data, and related tasks. Could you rephrase your question in that context?"
}

// LLMGuardrail asks the small model for a yes/no relevance verdict.
// Failures allow the query through: the guardrail must never block a user
// on infrastructure trouble.
type LLMGuardrail struct {
	llm    llm.Client
	logger *slog.Logger
}

var _ Guardrail = (*LLMGuardrail)(nil)

// NewLLMGuardrail creates the LLM-backed guardrail.
func NewLLMGuardrail(client llm.Client) *LLMGuardrail {
	return &LLMGuardrail{llm: client, logger: slog.Default()}
}

// IsRelevant reports whether the message belongs in a manufacturing
// assistant conversation.
func (g *LLMGuardrail) IsRelevant(ctx context.Context, message string, turns []models.ConversationTurn) bool {
	messages := llm.TurnsToMessages(turns)
	messages = append(messages, llm.Message{
		Role: llm.RoleUser,
		Content: "Is the following user query relevant to a manufacturing operations assistant " +
			"(production data, machines, reports, notifications, or general conversation in that context)? " +
			"Answer with exactly YES or NO.\n\nQuery: " + message,
	})

	verdict, err := g.llm.Converse(ctx, llm.ConverseInput{
		ModelID:     config.SmallModelID,
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		g.logger.Warn("Guardrail check failed, allowing by default", "error", err)
		return true
	}
	up := strings.ToUpper(verdict)
	if strings.Contains(up, "YES") {
		return true
	}
	return !strings.Contains(up, "NO")
}
