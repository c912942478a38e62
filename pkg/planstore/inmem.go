package planstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/senarios/aris/pkg/models"
)

// InMemStore is an in-process Store sharing the SQL store's semantics.
// Used by tests and by deployments that run without a database.
type InMemStore struct {
	mu    sync.RWMutex
	plans map[string]*models.ExecutionPlan
	seq   int // creation order tiebreaker for ActivePlan
	order map[string]int
}

var _ Store = (*InMemStore)(nil)

// NewInMemStore creates an empty in-memory plan store.
func NewInMemStore() *InMemStore {
	return &InMemStore{
		plans: make(map[string]*models.ExecutionPlan),
		order: make(map[string]int),
	}
}

// CreatePlan inserts a deep copy of the plan and its actions.
func (s *InMemStore) CreatePlan(_ context.Context, plan *models.ExecutionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[plan.PlanID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePlan, plan.PlanID)
	}

	stored := clonePlan(plan)
	stored.TotalActions = len(stored.Actions)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	for i, a := range stored.Actions {
		if a.ExecutionOrder == 0 {
			a.ExecutionOrder = i + 1
		}
		a.PlanID = stored.PlanID
	}
	s.seq++
	s.order[stored.PlanID] = s.seq
	s.plans[stored.PlanID] = stored
	return nil
}

// GetPlan returns a deep copy of the stored plan, or nil.
func (s *InMemStore) GetPlan(_ context.Context, planID string) (*models.ExecutionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[planID]
	if !ok {
		return nil, nil
	}
	return clonePlan(plan), nil
}

// ActivePlan returns the most recent non-terminal plan for a session.
func (s *InMemStore) ActivePlan(_ context.Context, sessionID string) (*models.ExecutionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*models.ExecutionPlan
	for _, plan := range s.plans {
		if plan.SessionID == sessionID && !plan.Status.Terminal() {
			candidates = append(candidates, plan)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return s.order[candidates[i].PlanID] > s.order[candidates[j].PlanID]
	})
	return clonePlan(candidates[0]), nil
}

// UpdatePlanStatus sets the plan status with timing bookkeeping.
func (s *InMemStore) UpdatePlanStatus(_ context.Context, planID string, status models.PlanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	plan.Status = status
	now := time.Now()
	if status == models.PlanStatusInProgress && plan.StartedAt == nil {
		plan.StartedAt = &now
	}
	if status.Terminal() {
		plan.CompletedAt = &now
	}
	return nil
}

// UpdateActionStatus transitions a single action with the monotonic check.
func (s *InMemStore) UpdateActionStatus(_ context.Context, planID, actionID string, status models.ActionStatus, result any, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	action := plan.ActionByID(actionID)
	if action == nil {
		return fmt.Errorf("%w: %s/%s", ErrActionNotFound, planID, actionID)
	}

	if err := validateTransition(action.Status, status); err != nil {
		return err
	}

	action.Status = status
	if result != nil {
		action.Result = result
	}
	if errorMessage != "" {
		action.ErrorMessage = errorMessage
	}
	now := time.Now()
	if status == models.ActionStatusStarting && action.StartedAt == nil {
		action.StartedAt = &now
	}
	if status.Terminal() {
		action.CompletedAt = &now
		completed, failed := 0, 0
		for _, a := range plan.Actions {
			switch a.Status {
			case models.ActionStatusCompleted:
				completed++
			case models.ActionStatusFailed:
				failed++
			}
		}
		plan.CompletedActions = completed
		plan.FailedActions = failed
	}
	return nil
}

// clonePlan deep-copies a plan via JSON so stored state cannot be mutated
// through returned references.
func clonePlan(plan *models.ExecutionPlan) *models.ExecutionPlan {
	data, err := json.Marshal(plan)
	if err != nil {
		// Plans are built from JSON-decoded values; marshaling cannot fail
		// in practice.
		panic(fmt.Sprintf("clone plan: %v", err))
	}
	var out models.ExecutionPlan
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("clone plan: %v", err))
	}
	return &out
}
