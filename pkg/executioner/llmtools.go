package executioner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/senarios/aris/pkg/config"
	"github.com/senarios/aris/pkg/llm"
	"github.com/senarios/aris/pkg/memory"
)

// Temperatures for the built-in LLM tools.
const (
	formattingTemperature = 0.1
	responseTemperature   = 0.2
)

// ToolResultRef carries one completed tool result into response synthesis.
type ToolResultRef struct {
	ToolName   string
	ActionName string
	Result     any
}

// LLMTools are the built-in LLM-backed tools the executioner uses for
// analysis and response actions.
type LLMTools struct {
	llm     llm.Client
	memory  memory.Store
	modelID string
	logger  *slog.Logger
}

// NewLLMTools creates the built-in tool set. modelID may be empty to use
// the default model.
func NewLLMTools(client llm.Client, mem memory.Store, modelID string) *LLMTools {
	if modelID == "" {
		modelID = config.DefaultModelID
	}
	return &LLMTools{llm: client, memory: mem, modelID: modelID, logger: slog.Default()}
}

// FormatDataForDocument reads a dependency's stored result and asks the
// LLM to reformat it for document creation. Errors are returned inside the
// envelope, never raised.
func (t *LLMTools) FormatDataForDocument(ctx context.Context, sessionID, dataSourceKey, formatType, title string) map[string]any {
	rawData, ok, err := t.memory.Get(ctx, sessionID, dataSourceKey)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("failed to read %s: %v", dataSourceKey, err)}
	}
	if !ok {
		return map[string]any{"error": fmt.Sprintf("No data found for key: %s", dataSourceKey)}
	}

	rawText := stringify(rawData)

	prompt := fmt.Sprintf(`Format the following raw data into a well-structured document suitable for PDF creation.

TITLE: %s
FORMAT TYPE: %s

RAW DATA:
%s

Please format this data into a clear, professional document structure with:
1. Executive Summary
2. Key Metrics and Highlights
3. Detailed Sections (organized by data type)
4. Conclusions and Insights

Return ONLY the formatted content that should go into the PDF document.`, title, formatType, rawText)

	formatted, err := t.llm.Converse(ctx, llm.ConverseInput{
		ModelID:     t.modelID,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		System:      "You are a data formatting specialist. Format raw data into professional, well-structured documents.",
		Temperature: formattingTemperature,
	})
	if err != nil {
		t.logger.Warn("Data formatting failed", "error", err)
		return map[string]any{"error": fmt.Sprintf("Data formatting failed: %v", err)}
	}

	return map[string]any{
		"success":            true,
		"formatted_content":  formatted,
		"title":              title,
		"format_type":        formatType,
		"original_data_size": len(rawText),
		"formatted_size":     len(formatted),
	}
}

// GenerateResponse composes the user-facing reply from the completed
// actions and their results.
func (t *LLMTools) GenerateResponse(ctx context.Context, sessionID, userQuery string, completedActions []string, toolResults []ToolResultRef) map[string]any {
	var sections []string

	if len(completedActions) > 0 {
		lines := make([]string, 0, len(completedActions))
		for _, name := range completedActions {
			lines = append(lines, "- "+name)
		}
		sections = append(sections, "Completed actions:\n"+strings.Join(lines, "\n"))
	}

	if summary := summarizeResults(toolResults); summary != "" {
		sections = append(sections, "Results:\n"+summary)
	}

	prompt := fmt.Sprintf(`Generate a professional response to the user based on the completed actions and results.

USER QUERY: %q

%s

Generate a clear, helpful response that:
1. Acknowledges what was accomplished
2. Provides relevant details (like download links)
3. Confirms successful completion
4. Is professional and user-friendly

Return ONLY the response message text.`, userQuery, strings.Join(sections, "\n\n"))

	responseText, err := t.llm.Converse(ctx, llm.ConverseInput{
		ModelID:     t.modelID,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		System:      "You are ARIS, a helpful manufacturing assistant. Generate professional responses acknowledging completed actions.",
		Temperature: responseTemperature,
	})
	if err != nil {
		t.logger.Warn("Response generation failed", "error", err)
		return map[string]any{"error": fmt.Sprintf("Response generation failed: %v", err)}
	}

	return map[string]any{
		"success":       true,
		"response_text": responseText,
		"actions_count": len(completedActions),
		"results_count": len(toolResults),
	}
}

// summarizeResults extracts the accomplishment line per tool result:
// created files with their URLs, retrieved data, authentication outcome.
func summarizeResults(toolResults []ToolResultRef) string {
	var lines []string
	for _, ref := range toolResults {
		result, ok := ref.Result.(map[string]any)
		if !ok {
			lines = append(lines, fmt.Sprintf("- %s: completed", ref.ActionName))
			continue
		}

		switch {
		case hasString(result, "file_url") || hasString(result, "download_url"):
			name := firstString(result, "file_name", "filename", "name")
			if name == "" {
				name = "document"
			}
			url := firstString(result, "file_url", "download_url")
			lines = append(lines, fmt.Sprintf("- Created %s (%s)", name, url))
		case strings.Contains(ref.ToolName, "login"):
			if success, _ := result["success"].(bool); success {
				lines = append(lines, "- Authentication completed")
			} else {
				lines = append(lines, "- Authentication failed")
			}
		case result["data"] != nil:
			lines = append(lines, fmt.Sprintf("- %s: retrieved data successfully", ref.ActionName))
		default:
			lines = append(lines, fmt.Sprintf("- %s: completed successfully", ref.ActionName))
		}
	}
	return strings.Join(lines, "\n")
}

func hasString(m map[string]any, key string) bool {
	s, ok := m[key].(string)
	return ok && s != ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
