package agent

import (
	"log/slog"

	"github.com/senarios/aris/pkg/config"
)

// modelAllowlist maps client-facing model names to supported model ids.
// Clients send OpenAI-style names as often as Bedrock ids.
var modelAllowlist = map[string]string{
	"gpt-4.1":       config.DefaultModelID,
	"gpt-4":         config.DefaultModelID,
	"gpt-4-turbo":   config.DefaultModelID,
	"gpt-3.5-turbo": config.SmallModelID,

	config.DefaultModelID: config.DefaultModelID,
	config.SmallModelID:   config.SmallModelID,

	"claude-3-sonnet": config.DefaultModelID,
	"claude-3-haiku":  config.SmallModelID,
}

// MapModelID validates a requested model against the allowlist. Unknown
// names fall back to the documented default; empty means no override.
func MapModelID(requested string) string {
	if requested == "" {
		return ""
	}
	if mapped, ok := modelAllowlist[requested]; ok {
		return mapped
	}
	slog.Warn("Unknown model requested, using default", "model", requested)
	return config.DefaultModelID
}
