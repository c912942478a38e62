package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractOptions(t *testing.T) {
	frame := &inboundFrame{
		ModelID: "gpt-4",
		RagParams: map[string]any{
			"model_params": map[string]any{"temperature": 0.4},
			"guardrails":   true,
			"search": map[string]any{
				"deep_search": true,
				"web_search":  false,
			},
		},
	}

	opts := extractOptions(frame)
	assert.Equal(t, "gpt-4", opts.ModelID)
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.4, *opts.Temperature, 1e-9)
	assert.True(t, opts.Guardrails)
	assert.True(t, opts.DeepSearch)
	assert.False(t, opts.WebSearch)
}

func TestExtractOptionsNestedModelID(t *testing.T) {
	frame := &inboundFrame{
		RagParams: map[string]any{
			"model_params": map[string]any{
				"model_id":    "claude-3-haiku",
				"temperature": "0.9",
			},
		},
	}

	opts := extractOptions(frame)
	assert.Equal(t, "claude-3-haiku", opts.ModelID)
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.9, *opts.Temperature, 1e-9)
}

func TestExtractOptionsDefaults(t *testing.T) {
	opts := extractOptions(&inboundFrame{})
	assert.Empty(t, opts.ModelID)
	assert.Nil(t, opts.Temperature)
	assert.False(t, opts.Guardrails)
}

func TestExtractOptionsBadTemperature(t *testing.T) {
	frame := &inboundFrame{
		RagParams: map[string]any{
			"model_params": map[string]any{"temperature": "very warm"},
		},
	}
	assert.Nil(t, extractOptions(frame).Temperature)
}
