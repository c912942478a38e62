// Package models defines the core domain types shared across the ARIS
// orchestrator: sessions, execution plans, planned actions, and the
// snapshot shapes published to clients.
package models

import "time"

// ActionType classifies a planned action.
type ActionType string

// Action types.
const (
	ActionTypeToolCall      ActionType = "tool_call"
	ActionTypeAnalysis      ActionType = "analysis"
	ActionTypeResponse      ActionType = "response"
	ActionTypeClarification ActionType = "clarification"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionTypeToolCall, ActionTypeAnalysis, ActionTypeResponse, ActionTypeClarification:
		return true
	}
	return false
}

// ActionStatus is the state of a single action within a plan.
type ActionStatus string

// Action statuses. Transitions are strictly monotonic along
// pending → starting → in_progress → {completed, failed, cancelled}.
const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusStarting   ActionStatus = "starting"
	ActionStatusInProgress ActionStatus = "in_progress"
	ActionStatusCompleted  ActionStatus = "completed"
	ActionStatusFailed     ActionStatus = "failed"
	ActionStatusCancelled  ActionStatus = "cancelled"
)

// actionStatusRank orders statuses along the canonical transition chain.
// Terminal statuses share the highest rank so no terminal→terminal
// transition is ever permitted.
var actionStatusRank = map[ActionStatus]int{
	ActionStatusPending:    0,
	ActionStatusStarting:   1,
	ActionStatusInProgress: 2,
	ActionStatusCompleted:  3,
	ActionStatusFailed:     3,
	ActionStatusCancelled:  3,
}

// Terminal reports whether the status is final for an action.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusCompleted || s == ActionStatusFailed || s == ActionStatusCancelled
}

// CanTransition reports whether moving from s to next respects the
// monotonic state machine. Self-transitions are rejected.
func (s ActionStatus) CanTransition(next ActionStatus) bool {
	from, ok := actionStatusRank[s]
	if !ok {
		return false
	}
	to, ok := actionStatusRank[next]
	if !ok {
		return false
	}
	if s.Terminal() {
		return false
	}
	return to > from
}

// PlanStatus is the state of an execution plan.
type PlanStatus string

// Plan statuses.
const (
	PlanStatusNew        PlanStatus = "new"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusFailed     PlanStatus = "failed"
	PlanStatusCancelled  PlanStatus = "cancelled"
)

// Terminal reports whether the status is final for a plan.
func (s PlanStatus) Terminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed || s == PlanStatusCancelled
}

// PlannedAction is a typed, statically scheduled unit of work within a plan.
type PlannedAction struct {
	ID             string
	PlanID         string
	Type           ActionType
	Name           string
	Description    string
	ToolName       string
	Arguments      map[string]any
	DependsOn      []string
	Status         ActionStatus
	ExecutionOrder int
	Result         any
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// ExecutionPlan is a DAG of actions derived from one user message.
type ExecutionPlan struct {
	PlanID           string
	SessionID        string
	UserQuery        string
	Summary          string
	Status           PlanStatus
	Actions          []*PlannedAction
	ModelID          string
	Temperature      *float64
	TotalActions     int
	CompletedActions int
	FailedActions    int
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Metadata         map[string]any
}

// ActionByID returns the action with the given id, or nil.
func (p *ExecutionPlan) ActionByID(id string) *PlannedAction {
	for _, a := range p.Actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// HasFailedActions reports whether any action has failed.
func (p *ExecutionPlan) HasFailedActions() bool {
	for _, a := range p.Actions {
		if a.Status == ActionStatusFailed {
			return true
		}
	}
	return false
}

// AllCompleted reports whether every action has completed.
func (p *ExecutionPlan) AllCompleted() bool {
	for _, a := range p.Actions {
		if a.Status != ActionStatusCompleted {
			return false
		}
	}
	return true
}

// DeriveStatus computes the plan status from its action statuses:
// failed if any action failed, completed if all completed, in_progress if
// any action is starting or in progress. Otherwise the current status is
// kept (e.g. a freshly created plan stays new).
func (p *ExecutionPlan) DeriveStatus() PlanStatus {
	if p.HasFailedActions() {
		return PlanStatusFailed
	}
	if len(p.Actions) > 0 && p.AllCompleted() {
		return PlanStatusCompleted
	}
	for _, a := range p.Actions {
		if a.Status == ActionStatusStarting || a.Status == ActionStatusInProgress {
			return PlanStatusInProgress
		}
	}
	return p.Status
}

// ActionSnapshot is the client-facing projection of a PlannedAction.
// Field set and order match the wire contract exactly.
type ActionSnapshot struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	DependsOn   []string       `json:"depends_on"`
	Status      string         `json:"status"`
}

// PlanSnapshot is the client-facing projection of an ExecutionPlan,
// carried by plan_create and plan_update frames.
type PlanSnapshot struct {
	PlanID  string           `json:"plan_id"`
	Summary string           `json:"summary"`
	Status  string           `json:"status"`
	Actions []ActionSnapshot `json:"actions"`
}

// Snapshot projects the plan into its client-facing shape.
func (p *ExecutionPlan) Snapshot() PlanSnapshot {
	actions := make([]ActionSnapshot, 0, len(p.Actions))
	for _, a := range p.Actions {
		actions = append(actions, ActionSnapshot{
			ID:          a.ID,
			Type:        string(a.Type),
			Name:        a.Name,
			Description: a.Description,
			ToolName:    a.ToolName,
			Arguments:   a.Arguments,
			DependsOn:   a.DependsOn,
			Status:      string(a.Status),
		})
	}
	return PlanSnapshot{
		PlanID:  p.PlanID,
		Summary: p.Summary,
		Status:  string(p.Status),
		Actions: actions,
	}
}
