// Package agent provides the per-session orchestrators. An agent owns the
// sequencing of one session's turns: plan, persist, execute, respond.
package agent

import (
	"context"

	"github.com/senarios/aris/pkg/config"
	"github.com/senarios/aris/pkg/events"
	"github.com/senarios/aris/pkg/llm"
	"github.com/senarios/aris/pkg/memory"
	"github.com/senarios/aris/pkg/mcp"
	"github.com/senarios/aris/pkg/models"
	"github.com/senarios/aris/pkg/planstore"
	"github.com/senarios/aris/pkg/sessions"
)

// Response is the end-of-turn result returned to the transport layer.
type Response struct {
	Text string
	Data map[string]any
}

// Options are per-request runtime overrides.
type Options struct {
	ModelID     string
	Temperature *float64

	// Guardrails enables the relevance gate for this request.
	Guardrails bool

	// Search toggles are recorded on the plan for downstream tools.
	DeepSearch bool
	WebSearch  bool
}

// Agent is implemented by all session orchestrator variants.
type Agent interface {
	// ProcessMessage runs one full turn for an inbound user message.
	ProcessMessage(ctx context.Context, message string) (Response, error)

	// SetRuntimeOptions applies per-request model and temperature
	// overrides before the next turn.
	SetRuntimeOptions(opts Options)

	// RecentMessages returns the bounded conversation window.
	RecentMessages() []models.ConversationTurn
}

// DocumentHandler is implemented by agents that accept external document
// references before planning.
type DocumentHandler interface {
	ProcessDocument(ctx context.Context, bucket, key, message string) (models.DocumentNotice, error)
}

// ToolCatalog is the slice of the MCP dispatcher the orchestrator reads.
type ToolCatalog interface {
	ListTools(ctx context.Context) ([]models.ToolDescriptor, error)
	Call(ctx context.Context, toolName string, args map[string]any, planCtx *mcp.PlanContext) (any, error)
}

// Bus is the slice of the event bus the orchestrator publishes to.
type Bus interface {
	PublishProgress(text string)
	PublishPlanCreate(snap models.PlanSnapshot)
	PublishPlanUpdate(snap models.PlanSnapshot)
	PublishDocumentNotice(doc models.DocumentNotice)
	PublishFinalMessage(text string, data map[string]any)
}

// Ingestor is the document-ingestion collaborator contract: given an
// external object reference it returns a textual context for planning.
type Ingestor interface {
	ProcessObject(ctx context.Context, bucket, key string) (IngestedDocument, error)
}

// IngestedDocument is the ingestion collaborator's output.
type IngestedDocument struct {
	Name     string
	Format   string
	Type     string
	Metadata map[string]any
	Text     string
}

// Deps bundles the process-wide services every agent receives explicitly;
// there are no package-level singletons.
type Deps struct {
	Settings  *config.Settings
	PlanStore planstore.Store
	Sessions  sessions.Store
	Memory    memory.Store
	Catalog   ToolCatalog
	LLM       llm.Client
	Ingestor  Ingestor // nil disables document ingestion
	Guardrail Guardrail
}

// Factory creates the agent variant selected by configuration.
type Factory struct {
	deps Deps
}

// NewFactory creates an agent factory over shared dependencies.
func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps}
}

// Create builds the agent for one session, keyed on the configured agent
// type. Unknown types get the generic agent.
func (f *Factory) Create(sessionID, userID string, bus Bus) Agent {
	agentType := "manufacturing"
	if f.deps.Settings != nil && f.deps.Settings.AgentType != "" {
		agentType = f.deps.Settings.AgentType
	}
	if agentType == "manufacturing" {
		return NewManufacturingAgent(f.deps, sessionID, userID, bus)
	}
	return NewGenericAgent()
}

// Compile-time check that the concrete event bus satisfies Bus.
var _ Bus = (*events.Bus)(nil)
