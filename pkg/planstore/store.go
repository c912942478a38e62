// Package planstore persists execution plans and their actions. It is the
// authoritative state machine for action status: every state change commits
// here before any client notification is emitted.
package planstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/senarios/aris/pkg/models"
)

// Sentinel errors.
var (
	// ErrDuplicatePlan is returned when a plan id already exists.
	ErrDuplicatePlan = errors.New("plan already exists")

	// ErrPlanNotFound is returned for operations on unknown plans.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrActionNotFound is returned for operations on unknown actions.
	ErrActionNotFound = errors.New("action not found")

	// ErrInvalidTransition is returned when a status update would move an
	// action backwards along its state machine.
	ErrInvalidTransition = errors.New("invalid action status transition")
)

// Store is the plan persistence contract.
type Store interface {
	// CreatePlan atomically inserts the plan and all of its actions.
	// A duplicate plan id fails with ErrDuplicatePlan.
	CreatePlan(ctx context.Context, plan *models.ExecutionPlan) error

	// GetPlan returns the fully hydrated plan with actions ordered by
	// execution_order, or nil when absent.
	GetPlan(ctx context.Context, planID string) (*models.ExecutionPlan, error)

	// UpdatePlanStatus sets the plan status. The new→in_progress
	// transition records started_at; any terminal status records
	// completed_at.
	UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error

	// UpdateActionStatus transitions a single action, recording result and
	// error message. Non-monotonic transitions fail with
	// ErrInvalidTransition. Plan counters are maintained.
	UpdateActionStatus(ctx context.Context, planID, actionID string, status models.ActionStatus, result any, errorMessage string) error

	// ActivePlan returns the most recent non-terminal plan for a session,
	// or nil when there is none.
	ActivePlan(ctx context.Context, sessionID string) (*models.ExecutionPlan, error)
}

// Statistics summarizes action statuses within one plan.
type Statistics struct {
	TotalActions int `json:"total_actions"`
	Pending      int `json:"pending"`
	InProgress   int `json:"in_progress"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
}

// validateTransition checks the monotonic state machine shared by both
// store implementations.
func validateTransition(from, to models.ActionStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	return nil
}
