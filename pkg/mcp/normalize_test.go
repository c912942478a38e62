package mcp

import (
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
)

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func TestNormalizeResultStructured(t *testing.T) {
	result := &mcpsdk.CallToolResult{
		StructuredContent: map[string]any{"success": true, "count": 3},
	}

	normalized := NormalizeResult(result)
	m := normalized.(map[string]any)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, float64(3), m["count"])
}

func TestNormalizeResultTextJSON(t *testing.T) {
	normalized := NormalizeResult(textResult(`{"file_url": "https://x/y.pdf", "file_name": "y.pdf"}`))
	m := normalized.(map[string]any)
	assert.Equal(t, "https://x/y.pdf", m["file_url"])
}

func TestNormalizeResultPlainText(t *testing.T) {
	normalized := NormalizeResult(textResult("all done"))
	assert.Equal(t, "all done", normalized)
}

func TestNormalizeResultError(t *testing.T) {
	result := textResult("boom")
	result.IsError = true

	normalized := NormalizeResult(result)
	assert.Equal(t, map[string]any{"error": "boom"}, normalized)
}

func TestNormalizeResultUnserializableStructured(t *testing.T) {
	result := &mcpsdk.CallToolResult{StructuredContent: make(chan int)}

	normalized := NormalizeResult(result)
	m := normalized.(map[string]any)
	assert.Equal(t, serializationFailedMsg, m["error"])
	assert.Contains(t, m, "data")

	// The wrapper is a successful result, not an error envelope.
	assert.Empty(t, errorField(normalized))
}

func TestErrorField(t *testing.T) {
	assert.Equal(t, "boom", errorField(map[string]any{"error": "boom"}))
	assert.Empty(t, errorField(map[string]any{"success": true}))
	assert.Empty(t, errorField("just text"))
	assert.Empty(t, errorField(map[string]any{"data": "x", "error": serializationFailedMsg}))
}

func TestToolMetadata(t *testing.T) {
	capability, domain := toolMetadata(map[string]any{
		"capability": "authentication",
		"domain":     "manufacturing",
	})
	assert.Equal(t, "authentication", capability)
	assert.Equal(t, "manufacturing", domain)

	capability, domain = toolMetadata(map[string]any{
		"tags": []any{"capability:document_generation", "domain:files"},
	})
	assert.Equal(t, "document_generation", capability)
	assert.Equal(t, "files", domain)

	capability, domain = toolMetadata(nil)
	assert.Empty(t, capability)
	assert.Empty(t, domain)
}
