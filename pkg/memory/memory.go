// Package memory implements the durable session memory: a key/value
// scratchpad that carries tool outputs across actions and turns within a
// session.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the session memory contract consumed by the executioner and the
// orchestrator.
type Store interface {
	// Put upserts a value under (sessionID, key) with size accounting and
	// optional expiry.
	Put(ctx context.Context, sessionID, key string, value any, toolName string, tags []string, ttl time.Duration) error

	// Get returns the stored value, or ok=false when absent or expired.
	// Access counters are incremented on hits.
	Get(ctx context.Context, sessionID, key string) (value any, ok bool, err error)

	// Delete removes keys and reports per-key success.
	Delete(ctx context.Context, sessionID string, keys []string) (map[string]bool, error)

	// ListKeys returns keys for the session, optionally filtered by a
	// glob-style pattern ("tool_result_*"). Empty pattern lists all keys.
	ListKeys(ctx context.Context, sessionID, pattern string) ([]string, error)

	// ByTool returns keys written by a specific tool.
	ByTool(ctx context.Context, sessionID, toolName string) ([]string, error)

	// ByTag returns keys carrying a specific tag.
	ByTag(ctx context.Context, sessionID, tag string) ([]string, error)

	// HandleToolResult performs the canonical tool-result write: key
	// tool_result_<actionID>, tags {tool_result, toolName}.
	HandleToolResult(ctx context.Context, sessionID, actionID, toolName string, result any) error
}

// maxToolNameLen is the storage limit for tool_name (VARCHAR(100)).
const maxToolNameLen = 100

// truncateToolName fits a tool name into the storage column.
func truncateToolName(toolName string) string {
	if len(toolName) <= maxToolNameLen {
		return toolName
	}
	return toolName[:maxToolNameLen-3] + "..."
}

// wrappedMarkerKey tags values that normalizeValue stringified because
// they could not be JSON-encoded. Only the wrapper sets it, so genuine
// tool results shaped {data, type} survive a round trip untouched.
const wrappedMarkerKey = "__aris_wrapped__"

// normalizeValue produces the canonical JSON encoding of a value and its
// byte size. Values that cannot be JSON-encoded are wrapped as
// {data: <string form>, type: <type name>} so session memory stores JSON
// only.
func normalizeValue(value any) (encoded []byte, wrapped bool, err error) {
	data, err := json.Marshal(value)
	if err == nil {
		return data, false, nil
	}

	wrapper := map[string]any{
		"data":           fmt.Sprint(value),
		"type":           fmt.Sprintf("%T", value),
		wrappedMarkerKey: true,
	}
	data, err = json.Marshal(wrapper)
	if err != nil {
		return nil, false, fmt.Errorf("encode wrapped value: %w", err)
	}
	return data, true, nil
}

// unwrapValue undoes the non-JSON wrapping applied by normalizeValue,
// gated on the marker key so only wrapper-produced objects collapse back
// to their string form.
func unwrapValue(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	if marked, _ := m[wrappedMarkerKey].(bool); !marked {
		return value
	}
	if data, ok := m["data"]; ok {
		return data
	}
	return value
}
