package executioner

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/senarios/aris/pkg/llm"
	"github.com/senarios/aris/pkg/mcp"
	"github.com/senarios/aris/pkg/memory"
	"github.com/senarios/aris/pkg/models"
	"github.com/senarios/aris/pkg/planstore"
)

// recorderBus captures progress lines and plan snapshots in emission
// order. onPlanUpdate runs synchronously for store-before-notify checks.
type recorderBus struct {
	mu           sync.Mutex
	progress     []string
	planUpdates  []models.PlanSnapshot
	onPlanUpdate func(models.PlanSnapshot)
}

func (b *recorderBus) PublishProgress(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress = append(b.progress, text)
}

func (b *recorderBus) PublishPlanUpdate(snap models.PlanSnapshot) {
	b.mu.Lock()
	hook := b.onPlanUpdate
	b.planUpdates = append(b.planUpdates, snap)
	b.mu.Unlock()
	if hook != nil {
		hook(snap)
	}
}

func (b *recorderBus) updates() []models.PlanSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.PlanSnapshot, len(b.planUpdates))
	copy(out, b.planUpdates)
	return out
}

// fakeDispatcher mimics the MCP dispatcher, including the plan-context
// transition protocol: starting/in_progress before the call, terminal
// after, each persisted before publishing.
type fakeDispatcher struct {
	mu    sync.Mutex
	tools map[string]func(args map[string]any) (any, error)
	calls []recordedCall
}

type recordedCall struct {
	Tool string
	Args map[string]any
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{tools: map[string]func(map[string]any) (any, error){}}
}

func (d *fakeDispatcher) respond(tool string, fn func(map[string]any) (any, error)) {
	d.tools[tool] = fn
}

func (d *fakeDispatcher) recorded() []recordedCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]recordedCall, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *fakeDispatcher) transition(ctx context.Context, planCtx *mcp.PlanContext, status models.ActionStatus, result any, errMsg string) {
	if planCtx == nil || planCtx.Store == nil {
		return
	}
	if err := planCtx.Store.UpdateActionStatus(ctx, planCtx.PlanID, planCtx.ActionID, status, result, errMsg); err != nil {
		return
	}
	if planCtx.Bus == nil {
		return
	}
	if plan, err := planCtx.Store.GetPlan(ctx, planCtx.PlanID); err == nil && plan != nil {
		plan.Status = plan.DeriveStatus()
		planCtx.Bus.PublishPlanUpdate(plan.Snapshot())
	}
}

func (d *fakeDispatcher) Call(ctx context.Context, toolName string, args map[string]any, planCtx *mcp.PlanContext) (any, error) {
	d.mu.Lock()
	d.calls = append(d.calls, recordedCall{Tool: toolName, Args: args})
	fn, ok := d.tools[toolName]
	d.mu.Unlock()

	if !ok {
		return nil, errToolNotFoundTest(toolName)
	}

	d.transition(ctx, planCtx, models.ActionStatusStarting, nil, "")
	d.transition(ctx, planCtx, models.ActionStatusInProgress, nil, "")

	result, err := fn(args)
	if err != nil {
		d.transition(ctx, planCtx, models.ActionStatusFailed, nil, err.Error())
		return nil, err
	}
	if m, ok := result.(map[string]any); ok {
		if msg, _ := m["error"].(string); msg != "" {
			d.transition(ctx, planCtx, models.ActionStatusFailed, result, msg)
			return result, nil
		}
	}
	d.transition(ctx, planCtx, models.ActionStatusCompleted, result, "")
	return result, nil
}

type toolNotFoundErr string

func (e toolNotFoundErr) Error() string { return "no server provides tool " + string(e) }

func errToolNotFoundTest(tool string) error { return toolNotFoundErr(tool) }

// promptLLM answers by prompt content: formatting prompts get formatted
// text, everything else gets the canned reply.
type promptLLM struct {
	mu     sync.Mutex
	inputs []llm.ConverseInput
	reply  string
}

func (l *promptLLM) Converse(_ context.Context, input llm.ConverseInput) (string, error) {
	l.mu.Lock()
	l.inputs = append(l.inputs, input)
	l.mu.Unlock()

	prompt := ""
	if len(input.Messages) > 0 {
		prompt = input.Messages[len(input.Messages)-1].Content
	}
	if strings.Contains(prompt, "Format the following raw data") {
		return "FORMATTED CONTENT", nil
	}
	if l.reply != "" {
		return l.reply, nil
	}
	return "Here is what I accomplished for you.", nil
}

// testRig bundles the executioner with its fakes over the in-memory
// stores.
type testRig struct {
	store      *planstore.InMemStore
	memory     *memory.InMemStore
	dispatcher *fakeDispatcher
	bus        *recorderBus
	llm        *promptLLM
	exec       *Executioner
}

const testSessionID = "session-1"

func newTestRig() *testRig {
	store := planstore.NewInMemStore()
	mem := memory.NewInMemStore()
	dispatcher := newFakeDispatcher()
	bus := &recorderBus{}
	client := &promptLLM{}

	return &testRig{
		store:      store,
		memory:     mem,
		dispatcher: dispatcher,
		bus:        bus,
		llm:        client,
		exec: New(store, mem, dispatcher, NewLLMTools(client, mem, ""),
			bus, testSessionID),
	}
}

// run persists the plan and executes it.
func (r *testRig) run(t *testing.T, plan *models.ExecutionPlan) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.store.CreatePlan(ctx, plan))
	require.NoError(t, r.exec.ExecutePlan(ctx, plan))
}

// action builders.

func toolAction(id, name, tool string, args map[string]any, deps ...string) *models.PlannedAction {
	return &models.PlannedAction{
		ID: id, Type: models.ActionTypeToolCall, Name: name, Description: name,
		ToolName: tool, Arguments: args, DependsOn: deps,
		Status: models.ActionStatusPending,
	}
}

func analysisAction(id, name string, deps ...string) *models.PlannedAction {
	return &models.PlannedAction{
		ID: id, Type: models.ActionTypeAnalysis, Name: name, Description: name,
		DependsOn: deps, Status: models.ActionStatusPending,
	}
}

func responseAction(id string, deps ...string) *models.PlannedAction {
	return &models.PlannedAction{
		ID: id, Type: models.ActionTypeResponse, Name: "Provide response",
		Description: "Generate a helpful response", DependsOn: deps,
		Status: models.ActionStatusPending,
	}
}

func testPlan(actions ...*models.PlannedAction) *models.ExecutionPlan {
	return &models.ExecutionPlan{
		PlanID:    "plan-1",
		SessionID: testSessionID,
		UserQuery: "do the thing",
		Summary:   "test plan",
		Status:    models.PlanStatusNew,
		Actions:   actions,
	}
}

// statusSequences extracts, per action, the distinct status sequence
// observed across plan updates.
func statusSequences(updates []models.PlanSnapshot) map[string][]string {
	out := map[string][]string{}
	for _, snap := range updates {
		for _, a := range snap.Actions {
			seq := out[a.ID]
			if len(seq) == 0 || seq[len(seq)-1] != a.Status {
				out[a.ID] = append(seq, a.Status)
			}
		}
	}
	return out
}

// canonicalChain is the full status chain actions may traverse.
var canonicalChain = []string{"pending", "starting", "in_progress", "completed"}

func isPrefixOfChain(seq []string, terminal string) bool {
	chain := append(append([]string(nil), canonicalChain[:3]...), terminal)
	idx := 0
	for _, s := range seq {
		found := false
		for idx < len(chain) {
			if chain[idx] == s {
				found = true
				break
			}
			idx++
		}
		if !found {
			return false
		}
	}
	return true
}
