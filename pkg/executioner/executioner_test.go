package executioner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senarios/aris/pkg/models"
)

func TestGreetingFallbackPlanRunsEndToEnd(t *testing.T) {
	rig := newTestRig()
	plan := testPlan(
		analysisAction("a1", "Analyze user request"),
		responseAction("a2", "a1"),
	)

	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusCompleted, plan.Status)
	for _, a := range plan.Actions {
		assert.Equal(t, models.ActionStatusCompleted, a.Status)
	}

	// Both results are in memory under the canonical keys.
	ctx := context.Background()
	_, ok, _ := rig.memory.Get(ctx, testSessionID, "tool_result_a1")
	assert.True(t, ok)
	value, ok, _ := rig.memory.Get(ctx, testSessionID, "tool_result_a2")
	require.True(t, ok)
	result := value.(map[string]any)
	assert.NotEmpty(t, result["response_text"])

	// Every action's observed status sequence is a prefix of the
	// canonical chain.
	for id, seq := range statusSequences(rig.bus.updates()) {
		assert.True(t, isPrefixOfChain(seq, "completed"), "action %s sequence %v", id, seq)
	}
}

func TestSingleToolCallScenario(t *testing.T) {
	rig := newTestRig()
	rig.dispatcher.respond("get_fake_data", func(map[string]any) (any, error) {
		return map[string]any{"success": true, "data": map[string]any{"machines": 4}}, nil
	})

	plan := testPlan(
		toolAction("t1", "Fetch data", "get_fake_data", map[string]any{"result_variable_name": "data"}),
		analysisAction("t2", "Review data", "t1"),
		responseAction("t3", "t2"),
	)

	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusCompleted, plan.Status)

	// No orphan tool results: every completed tool_call has its memory
	// entry.
	_, ok, _ := rig.memory.Get(context.Background(), testSessionID, "tool_result_t1")
	assert.True(t, ok)

	// The single tool_call action was dispatched exactly once.
	require.Len(t, rig.dispatcher.recorded(), 1)
}

func TestDependencyOrderRespected(t *testing.T) {
	rig := newTestRig()
	var order []string
	rig.dispatcher.respond("first", func(map[string]any) (any, error) {
		order = append(order, "first")
		return map[string]any{"success": true}, nil
	})
	rig.dispatcher.respond("second", func(map[string]any) (any, error) {
		order = append(order, "second")
		return map[string]any{"success": true}, nil
	})

	// Declared in reverse order: dependencies still force first < second.
	plan := testPlan(
		toolAction("b", "Second", "second", nil, "a"),
		toolAction("a", "First", "first", nil),
	)

	rig.run(t, plan)

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, models.PlanStatusCompleted, plan.Status)
}

func TestToolFailurePropagates(t *testing.T) {
	rig := newTestRig()
	rig.dispatcher.respond("broken", func(map[string]any) (any, error) {
		return map[string]any{"error": "boom"}, nil
	})
	rig.dispatcher.respond("never_runs", func(map[string]any) (any, error) {
		return map[string]any{"success": true}, nil
	})

	plan := testPlan(
		toolAction("f1", "Break things", "broken", nil),
		toolAction("f2", "Never runs", "never_runs", nil, "f1"),
		responseAction("f3", "f2"),
	)

	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusFailed, plan.Status)
	assert.Equal(t, models.ActionStatusFailed, plan.Actions[0].Status)
	assert.Equal(t, "boom", plan.Actions[0].ErrorMessage)

	// No further actions start after the failure.
	assert.Equal(t, models.ActionStatusPending, plan.Actions[1].Status)
	assert.Equal(t, models.ActionStatusPending, plan.Actions[2].Status)
	require.Len(t, rig.dispatcher.recorded(), 1)
}

func TestDispatcherErrorFailsAction(t *testing.T) {
	rig := newTestRig()
	rig.dispatcher.respond("flaky", func(map[string]any) (any, error) {
		return nil, errors.New("transport exploded")
	})

	plan := testPlan(toolAction("x1", "Flaky", "flaky", nil))
	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusFailed, plan.Status)
	assert.Equal(t, models.ActionStatusFailed, plan.Actions[0].Status)
	assert.Contains(t, plan.Actions[0].ErrorMessage, "transport exploded")
}

func TestEmptyPlanCompletesWithSingleUpdate(t *testing.T) {
	rig := newTestRig()
	plan := testPlan()

	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusCompleted, plan.Status)
	updates := rig.bus.updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "completed", updates[0].Status)

	stored, err := rig.store.GetPlan(context.Background(), plan.PlanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCompleted, stored.Status)
}

func TestCyclicDependenciesDeadlock(t *testing.T) {
	rig := newTestRig()
	rig.dispatcher.respond("anything", func(map[string]any) (any, error) {
		return map[string]any{"success": true}, nil
	})

	plan := testPlan(
		toolAction("c1", "First", "anything", nil, "c2"),
		toolAction("c2", "Second", "anything", nil, "c1"),
	)

	rig.run(t, plan)

	// No action ever transitions; the loop exits on the no-progress
	// branch and the plan fails with a synthetic deadlock error.
	assert.Equal(t, models.PlanStatusFailed, plan.Status)
	assert.Equal(t, models.ActionStatusPending, plan.Actions[0].Status)
	assert.Equal(t, models.ActionStatusPending, plan.Actions[1].Status)
	assert.Empty(t, rig.dispatcher.recorded())
	assert.Contains(t, DeadlockError(plan), "deadlocked")
}

func TestMissingDependencyDeadlocks(t *testing.T) {
	rig := newTestRig()
	plan := testPlan(toolAction("m1", "Blocked", "anything", nil, "ghost"))

	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusFailed, plan.Status)
	assert.Equal(t, models.ActionStatusPending, plan.Actions[0].Status)
	assert.NotEmpty(t, DeadlockError(plan))
}

func TestStoreBeforeNotify(t *testing.T) {
	rig := newTestRig()
	rig.dispatcher.respond("get_fake_data", func(map[string]any) (any, error) {
		return map[string]any{"success": true}, nil
	})

	// At every plan_update emission, the store must already reflect the
	// published per-action statuses.
	ctx := context.Background()
	rig.bus.onPlanUpdate = func(snap models.PlanSnapshot) {
		stored, err := rig.store.GetPlan(ctx, snap.PlanID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		for _, published := range snap.Actions {
			action := stored.ActionByID(published.ID)
			require.NotNil(t, action)
			assert.Equal(t, published.Status, string(action.Status),
				"store lags published status for action %s", published.ID)
		}
	}

	plan := testPlan(
		toolAction("s1", "Fetch", "get_fake_data", nil),
		responseAction("s2", "s1"),
	)
	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusCompleted, plan.Status)
}

func TestTerminationBound(t *testing.T) {
	rig := newTestRig()

	// A plan whose only action can never run still terminates within the
	// iteration cap, producing a bounded number of updates.
	plan := testPlan(
		toolAction("t1", "Blocked forever", "anything", nil, "absent"),
		toolAction("t2", "Also blocked", "anything", nil, "absent"),
	)
	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusFailed, plan.Status)
	assert.LessOrEqual(t, len(rig.bus.updates()), 2+2*len(plan.Actions))
}

func TestToolCallWithoutToolNameFails(t *testing.T) {
	rig := newTestRig()
	plan := testPlan(&models.PlannedAction{
		ID: "n1", Type: models.ActionTypeToolCall, Name: "Nameless",
		Status: models.ActionStatusPending,
	})

	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusFailed, plan.Status)
	assert.Equal(t, models.ActionStatusFailed, plan.Actions[0].Status)
}

func TestAnalysisFormatsDocumentFromDependency(t *testing.T) {
	rig := newTestRig()
	rig.dispatcher.respond("get_fake_data", func(map[string]any) (any, error) {
		return map[string]any{"data": "raw numbers"}, nil
	})

	plan := testPlan(
		toolAction("d1", "Fetch data", "get_fake_data", nil),
		analysisAction("d2", "Format data for PDF", "d1"),
	)
	rig.run(t, plan)

	value, ok, _ := rig.memory.Get(context.Background(), testSessionID, "tool_result_d2")
	require.True(t, ok)
	result := value.(map[string]any)
	assert.Equal(t, "FORMATTED CONTENT", result["formatted_content"])
	assert.Equal(t, true, result["success"])
}

func TestClarificationActionCompletes(t *testing.T) {
	rig := newTestRig()
	plan := testPlan(&models.PlannedAction{
		ID: "q1", Type: models.ActionTypeClarification,
		Name: "Ask for dates", Description: "Which date range?",
		Status: models.ActionStatusPending,
	})

	rig.run(t, plan)

	assert.Equal(t, models.PlanStatusCompleted, plan.Status)
	value, ok, _ := rig.memory.Get(context.Background(), testSessionID, "tool_result_q1")
	require.True(t, ok)
	assert.Equal(t, "Which date range?", value.(map[string]any)["clarification"])
}

func TestChatIDInjectionOverridesPlanner(t *testing.T) {
	rig := newTestRig()
	rig.dispatcher.respond("create_pdf", func(args map[string]any) (any, error) {
		return map[string]any{"success": true, "file_url": "https://x/d.pdf", "file_name": "d.pdf"}, nil
	})

	plan := testPlan(toolAction("p1", "Create PDF", "create_pdf",
		map[string]any{"content": "hello", "chat_id": "fake_data_pdf"}))
	rig.run(t, plan)

	calls := rig.dispatcher.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, testSessionID, calls[0].Args["chat_id"])
}
