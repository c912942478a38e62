package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/senarios/aris/pkg/models"
)

// StatusStore is the slice of the plan store the dispatcher needs to record
// action transitions for a call made with plan context.
type StatusStore interface {
	UpdateActionStatus(ctx context.Context, planID, actionID string, status models.ActionStatus, result any, errorMessage string) error
	GetPlan(ctx context.Context, planID string) (*models.ExecutionPlan, error)
}

// PlanPublisher is the slice of the event bus the dispatcher needs.
type PlanPublisher interface {
	PublishPlanUpdate(snap models.PlanSnapshot)
}

// PlanContext ties a tool call to its action so the dispatcher can own the
// starting/in_progress/completed/failed transitions. The UI sees these
// transitions even if the caller forgets to emit them.
type PlanContext struct {
	PlanID   string
	ActionID string
	Store    StatusStore
	Bus      PlanPublisher
}

// Call routes a tool call to its owning server, injects per-server auth,
// executes, and normalizes the result to a plain JSON-compatible value.
//
// An authentication-class failure on a requires_auth server triggers one
// silent re-login and retry; a second failure is surfaced to the caller.
func (d *Dispatcher) Call(ctx context.Context, toolName string, args map[string]any, planCtx *PlanContext) (any, error) {
	server, ok := d.ToolServer(ctx, toolName)
	if !ok {
		return nil, errToolNotFound(toolName)
	}

	serverCfg, err := d.registry.Get(server)
	if err != nil {
		return nil, err
	}

	d.transition(ctx, planCtx, models.ActionStatusStarting, nil, "")

	if args == nil {
		args = map[string]any{}
	}
	if serverCfg.RequiresAuth && toolName != loginToolName(serverCfg) {
		if token, ok := d.token(server); ok {
			args = withToken(args, token)
		}
	}

	d.transition(ctx, planCtx, models.ActionStatusInProgress, nil, "")

	result, err := d.callOnce(ctx, server, toolName, args)
	if err != nil && serverCfg.RequiresAuth && IsAuthError(err) {
		d.logger.Info("Auth-class failure, re-authenticating once",
			"server", server, "tool", toolName)
		if loginErr := d.login(ctx, server, true); loginErr == nil {
			if token, ok := d.token(server); ok {
				args = withToken(args, token)
			}
			result, err = d.callOnce(ctx, server, toolName, args)
		}
	}

	if err != nil {
		d.transition(ctx, planCtx, models.ActionStatusFailed, nil, err.Error())
		return nil, err
	}

	normalized := NormalizeResult(result)
	if errMsg := errorField(normalized); errMsg != "" {
		d.transition(ctx, planCtx, models.ActionStatusFailed, normalized, errMsg)
		return normalized, nil
	}

	d.transition(ctx, planCtx, models.ActionStatusCompleted, normalized, "")
	return normalized, nil
}

// callOnce performs a single CallTool attempt with the server's timeout.
func (d *Dispatcher) callOnce(ctx context.Context, server, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	session, ok := d.session(server)
	if !ok {
		// Lazy reconnection: the server may have been configured but
		// never reached, or its session was torn down on failure.
		if err := d.connect(ctx, server); err != nil {
			return nil, err
		}
		session, ok = d.session(server)
		if !ok {
			return nil, fmt.Errorf("no session for server %q", server)
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, d.callTimeout(server))
	defer cancel()

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		if ClassifyError(err) == RetryNewSession {
			d.setFailed(server, err)
		}
		return nil, fmt.Errorf("call %s.%s: %w", server, toolName, err)
	}
	return result, nil
}

// transition records one action state change and publishes the snapshot
// read back from the store, preserving the write-before-notify ordering.
// Best-effort when no plan context is attached.
func (d *Dispatcher) transition(ctx context.Context, planCtx *PlanContext, status models.ActionStatus, result any, errorMessage string) {
	if planCtx == nil || planCtx.Store == nil {
		return
	}

	if err := planCtx.Store.UpdateActionStatus(ctx, planCtx.PlanID, planCtx.ActionID, status, result, errorMessage); err != nil {
		d.logger.Warn("Failed to record action transition",
			"plan_id", planCtx.PlanID, "action_id", planCtx.ActionID,
			"status", status, "error", err)
		return
	}

	if planCtx.Bus == nil {
		return
	}
	plan, err := planCtx.Store.GetPlan(ctx, planCtx.PlanID)
	if err != nil || plan == nil {
		d.logger.Warn("Failed to read plan for update frame",
			"plan_id", planCtx.PlanID, "error", err)
		return
	}
	plan.Status = plan.DeriveStatus()
	planCtx.Bus.PublishPlanUpdate(plan.Snapshot())
}

// errorField returns the error message when a normalized tool result is an
// error envelope ({error: "..."}).
func errorField(value any) string {
	m, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	// A {data, error: "serialization failed"} wrapper is a successful
	// result by contract.
	if _, wrapped := m["data"]; wrapped && m["error"] == serializationFailedMsg {
		return ""
	}
	if msg, ok := m["error"].(string); ok && msg != "" {
		return msg
	}
	return ""
}

func withToken(args map[string]any, token string) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out["jwt_token"] = token
	return out
}
