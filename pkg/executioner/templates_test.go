package executioner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senarios/aris/pkg/models"
)

func completedTool(id, name, tool string) *models.PlannedAction {
	a := toolAction(id, name, tool, nil)
	a.Status = models.ActionStatusCompleted
	return a
}

func TestResolveDirectReference(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	require.NoError(t, rig.memory.HandleToolResult(ctx, testSessionID, "a1", "get_fake_data",
		map[string]any{"data": map[string]any{"count": 3}}))

	plan := testPlan(completedTool("a1", "Fetch", "get_fake_data"))

	resolved := rig.exec.resolveTemplates(ctx, map[string]any{
		"count": "{{a1.data.count}}",
	}, plan)

	assert.Equal(t, "3", resolved["count"])
}

func TestResolveWholeResultAsPrettyJSON(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	stored := map[string]any{"data": "numbers", "success": true}
	require.NoError(t, rig.memory.HandleToolResult(ctx, testSessionID, "a1", "get_fake_data", stored))

	plan := testPlan(completedTool("a1", "Fetch", "get_fake_data"))

	resolved := rig.exec.resolveTemplates(ctx, map[string]any{
		"content": "{{a1.result}}",
	}, plan)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(resolved["content"].(string)), &decoded))
	assert.Equal(t, "numbers", decoded["data"])
}

func TestResolvePlannerLabelViaDataToolHeuristic(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	require.NoError(t, rig.memory.HandleToolResult(ctx, testSessionID, "real-id", "get_fake_data",
		map[string]any{"data": "payload"}))

	plan := testPlan(completedTool("real-id", "Fetch", "get_fake_data"))

	// "fetch_step" is a planner-invented label, not a real action id.
	resolved := rig.exec.resolveTemplates(ctx, map[string]any{
		"content": "{{fetch_step.result}}",
	}, plan)

	assert.Contains(t, resolved["content"], "payload")
}

func TestResolveURLPrefersDocumentTool(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	require.NoError(t, rig.memory.HandleToolResult(ctx, testSessionID, "data-id", "get_fake_data",
		map[string]any{"data": "x"}))
	require.NoError(t, rig.memory.HandleToolResult(ctx, testSessionID, "pdf-id", "create_pdf",
		map[string]any{"file_url": "https://files/report.pdf"}))

	plan := testPlan(
		completedTool("data-id", "Fetch", "get_fake_data"),
		completedTool("pdf-id", "Make PDF", "create_pdf"),
	)

	resolved := rig.exec.resolveTemplates(ctx, map[string]any{
		"link": "Download: {{doc.file_url}}",
	}, plan)

	assert.Equal(t, "Download: https://files/report.pdf", resolved["link"])
}

func TestResolveAnalysisFormattedContent(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	require.NoError(t, rig.memory.HandleToolResult(ctx, testSessionID, "an-id", "llm_analysis",
		map[string]any{"success": true, "formatted_content": "PRETTY TEXT"}))

	plan := testPlan(func() *models.PlannedAction {
		a := analysisAction("an-id", "Format")
		a.Status = models.ActionStatusCompleted
		return a
	}())

	resolved := rig.exec.resolveTemplates(ctx, map[string]any{
		"content": "{{analysis.result}}",
	}, plan)

	assert.Equal(t, "PRETTY TEXT", resolved["content"])
}

func TestUnresolvableReferenceLeftVerbatim(t *testing.T) {
	rig := newTestRig()
	plan := testPlan()

	resolved := rig.exec.resolveTemplates(context.Background(), map[string]any{
		"content": "{{ghost.result}}",
		"plain":   "untouched",
	}, plan)

	assert.Equal(t, "{{ghost.result}}", resolved["content"])
	assert.Equal(t, "untouched", resolved["plain"])
}

func TestResolveRecursesIntoNestedStructures(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	require.NoError(t, rig.memory.HandleToolResult(ctx, testSessionID, "a1", "get_fake_data",
		map[string]any{"name": "widget"}))

	plan := testPlan(completedTool("a1", "Fetch", "get_fake_data"))

	resolved := rig.exec.resolveTemplates(ctx, map[string]any{
		"nested": map[string]any{"title": "{{a1.name}}"},
		"list":   []any{"{{a1.name}}", 42},
	}, plan)

	nested := resolved["nested"].(map[string]any)
	assert.Equal(t, "widget", nested["title"])
	list := resolved["list"].([]any)
	assert.Equal(t, "widget", list[0])
	assert.Equal(t, 42, list[1])
}

func TestNavigate(t *testing.T) {
	value := map[string]any{"a": map[string]any{"b": "deep"}}

	got, ok := navigate(value, []string{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, "deep", got)

	_, ok = navigate(value, []string{"a", "missing"})
	assert.False(t, ok)

	_, ok = navigate("scalar", []string{"field"})
	assert.False(t, ok)
}
