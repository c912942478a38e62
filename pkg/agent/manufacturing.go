package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/senarios/aris/pkg/config"
	"github.com/senarios/aris/pkg/executioner"
	"github.com/senarios/aris/pkg/models"
	"github.com/senarios/aris/pkg/planner"
)

// ManufacturingAgent is the full session orchestrator: it decides whether
// to plan anew, persists the plan, drives the executioner, and assembles
// the final reply from session memory.
type ManufacturingAgent struct {
	deps      Deps
	sessionID string
	userID    string
	bus       Bus
	planner   *planner.Planner
	logger    *slog.Logger

	mu          sync.Mutex
	turns       []models.ConversationTurn
	modelID     string
	temperature *float64
	guardrails  bool
	deepSearch  bool
	webSearch   bool

	// pendingDocContext is textual context produced by the ingestion
	// collaborator, prepended to the next user message.
	pendingDocContext string
}

var (
	_ Agent           = (*ManufacturingAgent)(nil)
	_ DocumentHandler = (*ManufacturingAgent)(nil)
)

// NewManufacturingAgent creates the orchestrator for one session.
func NewManufacturingAgent(deps Deps, sessionID, userID string, bus Bus) *ManufacturingAgent {
	return &ManufacturingAgent{
		deps:      deps,
		sessionID: sessionID,
		userID:    userID,
		bus:       bus,
		planner:   planner.New(deps.LLM, ""),
		logger:    slog.Default().With("session_id", sessionID),
	}
}

// SetRuntimeOptions maps the requested model through the allowlist (unknown
// models fall back to the default) and stores the temperature as given;
// the temperature arrives already parsed, nil meaning unset.
func (a *ManufacturingAgent) SetRuntimeOptions(opts Options) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modelID = MapModelID(opts.ModelID)
	a.temperature = opts.Temperature
	a.guardrails = opts.Guardrails
	a.deepSearch = opts.DeepSearch
	a.webSearch = opts.WebSearch
}

// RecentMessages returns a copy of the conversation window.
func (a *ManufacturingAgent) RecentMessages() []models.ConversationTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ConversationTurn, len(a.turns))
	copy(out, a.turns)
	return out
}

// ProcessDocument asks the ingestion collaborator for a textual context
// and stages it for the next message.
func (a *ManufacturingAgent) ProcessDocument(ctx context.Context, bucket, key, message string) (models.DocumentNotice, error) {
	if a.deps.Ingestor == nil {
		return models.DocumentNotice{}, fmt.Errorf("document ingestion is not configured")
	}

	doc, err := a.deps.Ingestor.ProcessObject(ctx, bucket, key)
	if err != nil {
		return models.DocumentNotice{}, fmt.Errorf("ingest %s/%s: %w", bucket, key, err)
	}

	a.mu.Lock()
	a.pendingDocContext = fmt.Sprintf(
		"The user has provided a document (%s). Document content:\n\n%s\n\nUser message: %s",
		doc.Name, doc.Text, message)
	a.mu.Unlock()

	return models.DocumentNotice{
		Name:     doc.Name,
		Format:   doc.Format,
		Type:     doc.Type,
		Metadata: doc.Metadata,
	}, nil
}

// ProcessMessage runs one full turn.
func (a *ManufacturingAgent) ProcessMessage(ctx context.Context, message string) (Response, error) {
	enhanced := a.takeEnhancedMessage(message)

	a.appendTurn(models.RoleUser, enhanced)

	if a.guardrailsEnabled() && a.deps.Guardrail != nil {
		if !a.deps.Guardrail.IsRelevant(ctx, enhanced, a.RecentMessages()) {
			reply := GuardrailMessage()
			a.appendTurn(models.RoleAssistant, reply)
			a.bus.PublishFinalMessage(reply, map[string]any{})
			return Response{Text: reply, Data: map[string]any{}}, nil
		}
	}

	a.ensureSession(ctx)

	a.bus.PublishProgress("Thinking...")

	plan, created, err := a.obtainPlan(ctx, enhanced)
	if err != nil {
		// Persistence failure aborts the turn: an unpersisted plan is
		// never executed.
		a.logger.Error("Plan persistence failed, aborting turn", "error", err)
		reply := "I encountered a critical error while creating the execution plan. Please try again or contact support if the problem persists."
		a.appendTurn(models.RoleAssistant, reply)
		a.bus.PublishFinalMessage(reply, map[string]any{})
		return Response{Text: reply, Data: map[string]any{}}, nil
	}

	if created {
		a.bus.PublishPlanCreate(plan.Snapshot())
	}

	a.bus.PublishProgress("Executing plan...")

	exec := executioner.New(a.deps.PlanStore, a.deps.Memory, a.deps.Catalog,
		executioner.NewLLMTools(a.deps.LLM, a.deps.Memory, a.currentModelID()),
		a.bus, a.sessionID)
	if err := exec.ExecutePlan(ctx, plan); err != nil {
		a.logger.Error("Executioner infrastructure failure", "error", err)
	}

	text := a.assembleReply(ctx, plan)
	data := a.structuredResponseData(ctx, plan)

	a.appendTurn(models.RoleAssistant, text)
	if err := a.deps.Sessions.Touch(ctx, a.sessionID); err != nil {
		a.logger.Warn("Failed to touch session", "error", err)
	}

	a.bus.PublishFinalMessage(text, data)
	return Response{Text: text, Data: data}, nil
}

// obtainPlan reuses the active plan when one is still running, otherwise
// plans anew and persists before anything else sees the plan. The returned
// bool reports whether a new plan was created.
func (a *ManufacturingAgent) obtainPlan(ctx context.Context, message string) (*models.ExecutionPlan, bool, error) {
	active, err := a.deps.PlanStore.ActivePlan(ctx, a.sessionID)
	if err != nil {
		a.logger.Warn("Failed to read active plan, planning anew", "error", err)
	}
	if active != nil && !active.Status.Terminal() {
		a.logger.Info("Reusing active plan", "plan_id", active.PlanID, "status", active.Status)
		return active, false, nil
	}

	a.bus.PublishProgress("Creating execution plan...")

	var tools []models.ToolDescriptor
	if a.deps.Catalog != nil {
		tools, err = a.deps.Catalog.ListTools(ctx)
		if err != nil {
			a.logger.Warn("Tool discovery failed, planning without tools", "error", err)
		}
	}

	plan := a.planner.CreatePlan(ctx, message, a.RecentMessages(), tools, a.sessionID)
	plan.ModelID = a.currentModelID()
	plan.Temperature = a.currentTemperature()
	a.mu.Lock()
	if a.deepSearch || a.webSearch {
		if plan.Metadata == nil {
			plan.Metadata = map[string]any{}
		}
		plan.Metadata["search"] = map[string]any{
			"deep_search": a.deepSearch,
			"web_search":  a.webSearch,
		}
	}
	a.mu.Unlock()

	if err := a.deps.PlanStore.CreatePlan(ctx, plan); err != nil {
		return nil, false, err
	}
	return plan, true, nil
}

// assembleReply reads the response action's text from session memory; a
// missing or failed response action yields a fallback naming the failures.
func (a *ManufacturingAgent) assembleReply(ctx context.Context, plan *models.ExecutionPlan) string {
	for _, action := range plan.Actions {
		if action.Type != models.ActionTypeResponse || action.Status != models.ActionStatusCompleted {
			continue
		}
		value, ok, err := a.deps.Memory.Get(ctx, a.sessionID, models.ToolResultKey(action.ID))
		if err != nil || !ok {
			continue
		}
		if m, ok := value.(map[string]any); ok {
			if text, ok := m["response_text"].(string); ok && text != "" {
				return text
			}
		}
	}

	if msg := executioner.DeadlockError(plan); msg != "" {
		return fmt.Sprintf("I was unable to complete your request: %s. Please try rephrasing it.", msg)
	}

	if plan.HasFailedActions() {
		var failed []string
		for _, action := range plan.Actions {
			if action.Status == models.ActionStatusFailed {
				failed = append(failed, action.Name)
			}
		}
		return fmt.Sprintf(
			"I encountered some issues while processing your request. The following actions failed: %s. Please try again or contact support if the problem persists.",
			strings.Join(failed, ", "))
	}

	return "I've completed processing your request. Please check the results above."
}

// structuredResponseData assembles the {files: [{name, url}]} payload from
// tool results that produced file artifacts.
func (a *ManufacturingAgent) structuredResponseData(ctx context.Context, plan *models.ExecutionPlan) map[string]any {
	data := map[string]any{}
	var files []map[string]any

	for _, action := range plan.Actions {
		if action.Type != models.ActionTypeToolCall || action.Status != models.ActionStatusCompleted {
			continue
		}
		value, ok, err := a.deps.Memory.Get(ctx, a.sessionID, models.ToolResultKey(action.ID))
		if err != nil || !ok {
			continue
		}
		result, ok := value.(map[string]any)
		if !ok {
			continue
		}

		url := firstNonEmpty(result, "file_url", "download_url")
		if url == "" {
			continue
		}
		name := firstNonEmpty(result, "file_name", "filename", "name")
		if name == "" {
			name = "document"
		}
		files = append(files, map[string]any{"name": name, "url": url})
	}

	if len(files) > 0 {
		data["files"] = files
	}
	return data
}

func (a *ManufacturingAgent) ensureSession(ctx context.Context) {
	err := a.deps.Sessions.Upsert(ctx, &models.Session{
		ID:        a.sessionID,
		UserID:    a.userID,
		AgentType: "manufacturing",
		ModelID:   a.currentModelID(),
		Status:    models.SessionStatusActive,
	})
	if err != nil {
		a.logger.Warn("Failed to upsert session", "error", err)
	}
}

func (a *ManufacturingAgent) takeEnhancedMessage(message string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pendingDocContext != "" {
		enhanced := a.pendingDocContext
		a.pendingDocContext = ""
		return enhanced
	}
	return message
}

func (a *ManufacturingAgent) appendTurn(role, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = append(a.turns, models.ConversationTurn{Role: role, Text: text})
	if len(a.turns) > config.DefaultConversationWindow {
		a.turns = a.turns[len(a.turns)-config.DefaultConversationWindow:]
	}
}

func (a *ManufacturingAgent) currentModelID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.modelID == "" {
		return config.DefaultModelID
	}
	return a.modelID
}

func (a *ManufacturingAgent) guardrailsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.guardrails
}

func (a *ManufacturingAgent) currentTemperature() *float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.temperature
}

func firstNonEmpty(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
