package memory

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateToolName(t *testing.T) {
	assert.Equal(t, "create_pdf", truncateToolName("create_pdf"))

	long := strings.Repeat("x", 150)
	truncated := truncateToolName(long)
	assert.Len(t, truncated, 100)
	assert.True(t, strings.HasSuffix(truncated, "..."))
}

func TestNormalizeValue(t *testing.T) {
	data, wrapped, err := normalizeValue(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.False(t, wrapped)
	assert.JSONEq(t, `{"a":1}`, string(data))

	// Channels cannot be JSON-encoded: wrapped as {data, type}.
	data, wrapped, err = normalizeValue(make(chan int))
	require.NoError(t, err)
	assert.True(t, wrapped)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "data")
	assert.Contains(t, decoded, "type")
	assert.Contains(t, decoded, wrappedMarkerKey)
}

func TestUnwrapValue(t *testing.T) {
	assert.Equal(t, "hello", unwrapValue(map[string]any{
		"data": "hello", "type": "chan int", wrappedMarkerKey: true,
	}))

	// A genuine tool result that happens to use the {data, type} keys is
	// left alone: only the wrapper's marker triggers the unwrap.
	payload := map[string]any{"data": "x", "type": "y"}
	assert.Equal(t, payload, unwrapValue(payload))

	plain := map[string]any{"a": float64(1)}
	assert.Equal(t, plain, unwrapValue(plain))
}

func TestTwoKeyPayloadSurvivesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewInMemStore()

	stored := map[string]any{"data": "payload", "type": "report"}
	require.NoError(t, store.Put(ctx, "s1", "k", stored, "some_tool", nil, 0))

	value, ok, err := store.Get(ctx, "s1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"data": "payload", "type": "report"}, value)
}

func TestInMemUpsertLaw(t *testing.T) {
	ctx := context.Background()
	store := NewInMemStore()

	require.NoError(t, store.Put(ctx, "s1", "k", map[string]any{"v": 1}, "tool_a", nil, 0))
	require.NoError(t, store.Put(ctx, "s1", "k", map[string]any{"v": 2}, "tool_b", []string{"t"}, 0))

	value, ok, err := store.Get(ctx, "s1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"v": float64(2)}, value)

	item, found := store.Item("s1", "k")
	require.True(t, found)
	expected, _ := json.Marshal(map[string]any{"v": 2})
	assert.Equal(t, len(expected), item.SizeBytes)
	assert.Equal(t, "tool_b", item.ToolName)
}

func TestInMemExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewInMemStore()

	require.NoError(t, store.Put(ctx, "s1", "gone", "v", "", nil, time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := store.Get(ctx, "s1", "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := store.ListKeys(ctx, "s1", "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestInMemLookups(t *testing.T) {
	ctx := context.Background()
	store := NewInMemStore()

	require.NoError(t, store.HandleToolResult(ctx, "s1", "a1", "get_fake_data", map[string]any{"ok": true}))
	require.NoError(t, store.Put(ctx, "s1", "other", "v", "create_pdf", []string{"pdf"}, 0))
	require.NoError(t, store.Put(ctx, "s2", "foreign", "v", "get_fake_data", nil, 0))

	byTool, err := store.ByTool(ctx, "s1", "get_fake_data")
	require.NoError(t, err)
	assert.Equal(t, []string{"tool_result_a1"}, byTool)

	byTag, err := store.ByTag(ctx, "s1", "tool_result")
	require.NoError(t, err)
	assert.Equal(t, []string{"tool_result_a1"}, byTag)

	matched, err := store.ListKeys(ctx, "s1", "tool_result_*")
	require.NoError(t, err)
	assert.Equal(t, []string{"tool_result_a1"}, matched)

	// Sessions are isolated.
	keys, err := store.ListKeys(ctx, "s2", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"foreign"}, keys)
}

func TestInMemDelete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemStore()

	require.NoError(t, store.Put(ctx, "s1", "k1", "v", "", nil, 0))

	result, err := store.Delete(ctx, "s1", []string{"k1", "missing"})
	require.NoError(t, err)
	assert.True(t, result["k1"])
	assert.False(t, result["missing"])
}

func TestGlobToLike(t *testing.T) {
	assert.Equal(t, "tool\\_result\\_%", globToLike("tool_result_*"))
	assert.Equal(t, "%", globToLike("*"))
}
