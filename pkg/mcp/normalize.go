package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// serializationFailedMsg marks values that could not be JSON-encoded and
// were stringified instead. Such results are successful by contract.
const serializationFailedMsg = "serialization failed"

// NormalizeResult converts an MCP tool result to a plain JSON-compatible
// value so downstream components (session memory, template resolution) only
// ever see nested maps, lists, and primitives.
//
// Preference order:
//  1. structured content, round-tripped through JSON
//  2. concatenated text content decoded as JSON when it parses
//  3. the raw text as a string
//
// A tool-level error (IsError) becomes an {error: "..."} envelope.
func NormalizeResult(result *mcpsdk.CallToolResult) any {
	if result == nil {
		return nil
	}

	text := textContent(result)

	if result.IsError {
		msg := text
		if msg == "" {
			msg = "tool execution failed"
		}
		return map[string]any{"error": msg}
	}

	if result.StructuredContent != nil {
		if v, ok := roundTrip(result.StructuredContent); ok {
			return v
		}
		return map[string]any{
			"data":  fmt.Sprint(result.StructuredContent),
			"error": serializationFailedMsg,
		}
	}

	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}
	return text
}

// roundTrip forces a value through JSON so framework-specific objects
// become plain nested maps/lists/primitives.
func roundTrip(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

// textContent concatenates the text blocks of a tool result. Non-text
// content (images, embedded resources) is skipped.
func textContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
