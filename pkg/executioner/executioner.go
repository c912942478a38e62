// Package executioner drives an execution plan to a terminal status:
// dependency-ordered action scheduling, template resolution, tool dispatch,
// and LLM-backed analysis/response actions.
package executioner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/senarios/aris/pkg/memory"
	"github.com/senarios/aris/pkg/mcp"
	"github.com/senarios/aris/pkg/models"
)

// PlanStore is the slice of the plan store the executioner needs.
type PlanStore interface {
	UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error
	UpdateActionStatus(ctx context.Context, planID, actionID string, status models.ActionStatus, result any, errorMessage string) error
	GetPlan(ctx context.Context, planID string) (*models.ExecutionPlan, error)
}

// Dispatcher routes tool calls to their owning MCP server.
type Dispatcher interface {
	Call(ctx context.Context, toolName string, args map[string]any, planCtx *mcp.PlanContext) (any, error)
}

// Bus is the slice of the event bus the executioner publishes to.
type Bus interface {
	PublishProgress(text string)
	PublishPlanUpdate(snap models.PlanSnapshot)
}

// deadlockMetadataKey carries the synthetic deadlock error on the plan
// object for the orchestrator's fallback reply.
const deadlockMetadataKey = "deadlock_error"

// documentToolNames are tools that expect the ambient session-scoped chat
// id. The identifier is injected unconditionally, overriding whatever the
// planner produced.
var documentToolNames = map[string]bool{
	"create_pdf": true,
}

// chatIDPlaceholders are planner-invented chat id values that must be
// replaced with the real session identifier.
var chatIDPlaceholders = map[string]bool{
	"":                 true,
	"current_chat":     true,
	"current_session":  true,
	"fake_data_pdf":    true,
	"fake-pdf-request": true,
	"fake_pdf_request": true,
}

// Executioner executes one session's plans. It is the single writer to the
// session's plans and memory for the current turn; actions run sequentially
// in dependency order.
type Executioner struct {
	store      PlanStore
	memory     memory.Store
	dispatcher Dispatcher
	llmTools   *LLMTools
	bus        Bus
	sessionID  string
	logger     *slog.Logger
}

// New creates an executioner bound to one session.
func New(store PlanStore, mem memory.Store, dispatcher Dispatcher, llmTools *LLMTools, bus Bus, sessionID string) *Executioner {
	return &Executioner{
		store:      store,
		memory:     mem,
		dispatcher: dispatcher,
		llmTools:   llmTools,
		bus:        bus,
		sessionID:  sessionID,
		logger:     slog.Default().With("session_id", sessionID),
	}
}

// ExecutePlan drives the plan to a terminal status. The returned error
// reports infrastructure failures only; action-level failures are recorded
// in the plan itself.
func (e *Executioner) ExecutePlan(ctx context.Context, plan *models.ExecutionPlan) error {
	e.logger.Info("Starting plan execution", "plan_id", plan.PlanID, "actions", len(plan.Actions))

	// An empty plan completes immediately with a single update frame.
	if len(plan.Actions) == 0 {
		plan.Status = models.PlanStatusCompleted
		if err := e.store.UpdatePlanStatus(ctx, plan.PlanID, models.PlanStatusCompleted); err != nil {
			return fmt.Errorf("complete empty plan: %w", err)
		}
		e.bus.PublishPlanUpdate(plan.Snapshot())
		return nil
	}

	plan.Status = models.PlanStatusInProgress
	if err := e.store.UpdatePlanStatus(ctx, plan.PlanID, models.PlanStatusInProgress); err != nil {
		return fmt.Errorf("mark plan in progress: %w", err)
	}
	e.bus.PublishPlanUpdate(plan.Snapshot())

	// The iteration cap guarantees termination even for malformed plans;
	// the no-progress exit handles both completion and dependency
	// deadlock.
	maxIterations := 2 * len(plan.Actions)
	for iteration := 0; iteration < maxIterations; iteration++ {
		executed := false

		for _, action := range plan.Actions {
			// A failure stops the scan immediately: no further actions
			// are started, independent or not. The same applies once the
			// client connection is gone — in-flight work already ran to
			// completion and had its terminal status recorded.
			if plan.HasFailedActions() || ctx.Err() != nil {
				break
			}
			if action.Status != models.ActionStatusPending {
				continue
			}
			if !e.dependenciesSatisfied(plan, action) {
				continue
			}

			switch action.Type {
			case models.ActionTypeToolCall:
				if action.ToolName == "" {
					e.failAction(ctx, plan, action, "tool_call action has no tool name")
					executed = true
					continue
				}
				e.executeToolAction(ctx, plan, action)
				executed = true
			case models.ActionTypeAnalysis:
				e.executeAnalysisAction(ctx, plan, action)
				executed = true
			case models.ActionTypeResponse:
				e.executeResponseAction(ctx, plan, action)
				executed = true
			case models.ActionTypeClarification:
				// Clarification resolves client-side; the action itself
				// completes immediately with its description as payload.
				e.completeClarification(ctx, plan, action)
				executed = true
			}
		}

		plan.Status = plan.DeriveStatus()
		e.bus.PublishPlanUpdate(plan.Snapshot())

		// A failed action propagates immediately: no further actions are
		// started.
		if plan.HasFailedActions() {
			plan.Status = models.PlanStatusFailed
			if err := e.store.UpdatePlanStatus(ctx, plan.PlanID, models.PlanStatusFailed); err != nil {
				return fmt.Errorf("mark plan failed: %w", err)
			}
			e.bus.PublishPlanUpdate(plan.Snapshot())
			e.logger.Warn("Plan execution failed", "plan_id", plan.PlanID)
			return nil
		}

		if !executed {
			break
		}
	}

	final := plan.DeriveStatus()
	if !final.Terminal() && ctx.Err() != nil {
		final = models.PlanStatusCancelled
	}
	if !final.Terminal() {
		// No progress with non-terminal actions left: the plan is
		// deadlocked on unsatisfiable dependencies.
		final = models.PlanStatusFailed
		msg := fmt.Sprintf("plan deadlocked: %s never became runnable", strings.Join(pendingActionNames(plan), ", "))
		if plan.Metadata == nil {
			plan.Metadata = map[string]any{}
		}
		plan.Metadata[deadlockMetadataKey] = msg
		e.logger.Warn("Plan deadlocked", "plan_id", plan.PlanID, "error", msg)
	}

	plan.Status = final
	if err := e.store.UpdatePlanStatus(ctx, plan.PlanID, final); err != nil {
		return fmt.Errorf("finalize plan status: %w", err)
	}
	e.bus.PublishPlanUpdate(plan.Snapshot())

	e.logger.Info("Completed plan execution", "plan_id", plan.PlanID, "status", final)
	return nil
}

// dependenciesSatisfied reports whether every dependency of the action is
// completed. A dependency that does not exist in the plan blocks forever;
// the bounded loop turns that into a deadlock failure.
func (e *Executioner) dependenciesSatisfied(plan *models.ExecutionPlan, action *models.PlannedAction) bool {
	for _, depID := range action.DependsOn {
		dep := plan.ActionByID(depID)
		if dep == nil {
			e.logger.Warn("Dependency not found",
				"action", action.Name, "dependency", depID)
			return false
		}
		if dep.Status != models.ActionStatusCompleted {
			return false
		}
	}
	return true
}

// executeToolAction runs one tool_call action. The dispatcher owns the
// starting/in_progress/completed/failed store transitions via the plan
// context; this method mirrors the outcome on the local plan object and
// writes the result to session memory.
func (e *Executioner) executeToolAction(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction) {
	e.bus.PublishProgress(fmt.Sprintf("Executing %s...", action.Name))

	args := e.resolveTemplates(ctx, action.Arguments, plan)
	args = e.injectAmbientIdentifiers(action.ToolName, args)

	planCtx := &mcp.PlanContext{
		PlanID:   plan.PlanID,
		ActionID: action.ID,
		Store:    e.store,
		Bus:      e.bus,
	}

	// The call itself is detached from connection cancellation: a client
	// disconnect lets the in-flight tool finish and its terminal status
	// still reaches the store, so a reconnecting client sees a
	// consistent snapshot. The per-tool timeout still bounds the call.
	callCtx := context.WithoutCancel(ctx)
	result, err := e.dispatcher.Call(callCtx, action.ToolName, args, planCtx)
	if err != nil {
		// The dispatcher records the failed transition when it got far
		// enough to have a plan context in play; routing failures happen
		// before that, so record the failure here as well. A non-monotonic
		// second write is rejected by the store and ignored.
		e.logger.Warn("Tool action failed", "tool", action.ToolName, "error", err)
		if serr := e.store.UpdateActionStatus(ctx, plan.PlanID, action.ID, models.ActionStatusFailed, nil, err.Error()); serr == nil {
			action.Status = models.ActionStatusFailed
			action.ErrorMessage = err.Error()
			e.bus.PublishPlanUpdate(planWithStatus(plan))
		} else {
			action.Status = models.ActionStatusFailed
			action.ErrorMessage = err.Error()
		}
		return
	}

	if errMsg := toolErrorMessage(result); errMsg != "" {
		action.Status = models.ActionStatusFailed
		action.ErrorMessage = errMsg
		action.Result = result
	} else {
		action.Status = models.ActionStatusCompleted
		action.Result = result
	}

	if err := e.memory.HandleToolResult(ctx, e.sessionID, action.ID, action.ToolName, result); err != nil {
		e.logger.Warn("Failed to store tool result", "action_id", action.ID, "error", err)
	}
}

// injectAmbientIdentifiers forces the session-scoped chat id into tools
// that expect it, overriding any planner-produced value that differs.
func (e *Executioner) injectAmbientIdentifiers(toolName string, args map[string]any) map[string]any {
	if !documentToolNames[toolName] {
		return args
	}

	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	current, _ := out["chat_id"].(string)
	if chatIDPlaceholders[current] || current != e.sessionID {
		out["chat_id"] = e.sessionID
	}
	return out
}

// executeAnalysisAction runs an analysis action through the built-in LLM
// tools.
func (e *Executioner) executeAnalysisAction(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction) {
	e.bus.PublishProgress(fmt.Sprintf("Analyzing: %s...", action.Name))

	if !e.advance(ctx, plan, action, models.ActionStatusStarting) {
		return
	}
	if !e.advance(ctx, plan, action, models.ActionStatusInProgress) {
		return
	}

	var result map[string]any
	if key, ok := e.documentFormatSource(ctx, action); ok {
		result = e.llmTools.FormatDataForDocument(ctx, e.sessionID, key, "manufacturing_report", "Data Report")
	} else {
		result = map[string]any{
			"success":         true,
			"analysis_result": fmt.Sprintf("Analysis completed for: %s", action.Name),
		}
	}

	if err := e.memory.HandleToolResult(ctx, e.sessionID, action.ID, "llm_analysis", result); err != nil {
		e.logger.Warn("Failed to store analysis result", "action_id", action.ID, "error", err)
	}

	e.finishFromResult(ctx, plan, action, result)
}

// documentFormatSource detects the format-for-document intent: the action
// name or description asks for document formatting and the action has
// exactly one dependency whose result is available.
func (e *Executioner) documentFormatSource(ctx context.Context, action *models.PlannedAction) (string, bool) {
	text := strings.ToLower(action.Name + " " + action.Description)
	if !strings.Contains(text, "format") {
		return "", false
	}
	if !strings.Contains(text, "pdf") && !strings.Contains(text, "document") {
		return "", false
	}
	if len(action.DependsOn) != 1 {
		return "", false
	}
	key := models.ToolResultKey(action.DependsOn[0])
	if _, ok, err := e.memory.Get(ctx, e.sessionID, key); err != nil || !ok {
		return "", false
	}
	return key, true
}

// executeResponseAction synthesizes the user-facing reply from every
// completed action's stored result.
func (e *Executioner) executeResponseAction(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction) {
	e.bus.PublishProgress("Composing response...")

	if !e.advance(ctx, plan, action, models.ActionStatusStarting) {
		return
	}
	if !e.advance(ctx, plan, action, models.ActionStatusInProgress) {
		return
	}

	var completedNames []string
	var toolResults []ToolResultRef
	for _, a := range plan.Actions {
		if a.Status != models.ActionStatusCompleted {
			continue
		}
		completedNames = append(completedNames, a.Name)
		if a.Type != models.ActionTypeToolCall {
			continue
		}
		value, ok, err := e.memory.Get(ctx, e.sessionID, models.ToolResultKey(a.ID))
		if err != nil || !ok {
			continue
		}
		toolResults = append(toolResults, ToolResultRef{
			ToolName:   a.ToolName,
			ActionName: a.Name,
			Result:     value,
		})
	}

	result := e.llmTools.GenerateResponse(ctx, e.sessionID, plan.UserQuery, completedNames, toolResults)

	if err := e.memory.HandleToolResult(ctx, e.sessionID, action.ID, "llm_response", result); err != nil {
		e.logger.Warn("Failed to store response result", "action_id", action.ID, "error", err)
	}

	e.finishFromResult(ctx, plan, action, result)
}

// completeClarification terminates a clarification action; the question
// itself reaches the user through the response synthesis.
func (e *Executioner) completeClarification(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction) {
	if !e.advance(ctx, plan, action, models.ActionStatusStarting) {
		return
	}
	if !e.advance(ctx, plan, action, models.ActionStatusInProgress) {
		return
	}
	result := map[string]any{"success": true, "clarification": action.Description}
	if err := e.memory.HandleToolResult(ctx, e.sessionID, action.ID, "clarification", result); err != nil {
		e.logger.Warn("Failed to store clarification", "action_id", action.ID, "error", err)
	}
	e.finishFromResult(ctx, plan, action, result)
}

// advance performs one store-then-notify status transition on the local
// plan object. Returns false when the store rejected the write.
func (e *Executioner) advance(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction, status models.ActionStatus) bool {
	if err := e.store.UpdateActionStatus(ctx, plan.PlanID, action.ID, status, nil, ""); err != nil {
		e.logger.Warn("Failed to persist action transition",
			"action_id", action.ID, "status", status, "error", err)
		action.Status = models.ActionStatusFailed
		action.ErrorMessage = err.Error()
		return false
	}
	action.Status = status
	e.bus.PublishPlanUpdate(planWithStatus(plan))
	return true
}

// finishFromResult records the terminal transition derived from a result
// envelope: a non-empty error field fails the action.
func (e *Executioner) finishFromResult(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction, result map[string]any) {
	status := models.ActionStatusCompleted
	errMsg := ""
	if msg, ok := result["error"].(string); ok && msg != "" {
		status = models.ActionStatusFailed
		errMsg = msg
	}

	if err := e.store.UpdateActionStatus(ctx, plan.PlanID, action.ID, status, result, errMsg); err != nil {
		e.logger.Warn("Failed to persist terminal transition",
			"action_id", action.ID, "status", status, "error", err)
	}
	action.Status = status
	action.ErrorMessage = errMsg
	action.Result = result
	e.bus.PublishPlanUpdate(planWithStatus(plan))
}

// failAction records an immediate failure for an action that never started.
func (e *Executioner) failAction(ctx context.Context, plan *models.ExecutionPlan, action *models.PlannedAction, msg string) {
	if err := e.store.UpdateActionStatus(ctx, plan.PlanID, action.ID, models.ActionStatusFailed, nil, msg); err != nil {
		e.logger.Warn("Failed to persist action failure", "action_id", action.ID, "error", err)
	}
	action.Status = models.ActionStatusFailed
	action.ErrorMessage = msg
	e.bus.PublishPlanUpdate(planWithStatus(plan))
}

// planWithStatus refreshes the derived plan status before snapshotting.
func planWithStatus(plan *models.ExecutionPlan) models.PlanSnapshot {
	plan.Status = plan.DeriveStatus()
	return plan.Snapshot()
}

// toolErrorMessage extracts the error field from a normalized tool result.
// A {data, error: "serialization failed"} wrapper is successful by
// contract.
func toolErrorMessage(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	if _, wrapped := m["data"]; wrapped {
		if msg, _ := m["error"].(string); msg == "serialization failed" {
			return ""
		}
	}
	if msg, ok := m["error"].(string); ok && msg != "" {
		return msg
	}
	return ""
}

func pendingActionNames(plan *models.ExecutionPlan) []string {
	var names []string
	for _, a := range plan.Actions {
		if a.Status == models.ActionStatusPending {
			names = append(names, a.Name)
		}
	}
	if len(names) == 0 {
		names = append(names, "no runnable actions")
	}
	return names
}

// DeadlockError returns the synthetic deadlock message recorded on a plan,
// if any.
func DeadlockError(plan *models.ExecutionPlan) string {
	if plan.Metadata == nil {
		return ""
	}
	msg, _ := plan.Metadata[deadlockMetadataKey].(string)
	return msg
}
