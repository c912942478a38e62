package planner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/senarios/aris/pkg/config"
	"github.com/senarios/aris/pkg/models"
)

// buildPrompt assembles the planning prompt: user query, up to the last
// three conversation turns, and the tool catalog with parameter details.
func buildPrompt(userQuery string, turns []models.ConversationTurn, tools []models.ToolDescriptor) string {
	var b strings.Builder

	b.WriteString("Analyze this user query and create a detailed execution plan using the available tools.\n\n")
	fmt.Fprintf(&b, "USER QUERY: %q\n\n", userQuery)

	if len(turns) > 0 {
		window := turns
		if len(window) > config.PlannerContextTurns {
			window = window[len(window)-config.PlannerContextTurns:]
		}
		contextJSON, err := json.MarshalIndent(window, "", "  ")
		if err == nil {
			b.WriteString("CONVERSATION CONTEXT:\n")
			b.Write(contextJSON)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("AVAILABLE TOOLS:\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "• %s: %s\n", tool.Name, tool.Description)
		for _, line := range describeParameters(tool.InputSchema) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString(`
Create a JSON execution plan with this structure:
{
    "summary": "Brief description of what will be accomplished",
    "actions": [
        {
            "id": "unique-uuid-string",
            "type": "tool_call|analysis|response",
            "name": "Human-readable action name",
            "description": "What this action will accomplish",
            "tool_name": "exact_tool_name_if_tool_call",
            "arguments": {"param1": "value1"},
            "depends_on": ["previous_action_uuid"]
        }
    ]
}

PLANNING GUIDELINES:
1. Generate unique UUID-style strings for each action ID
2. Only use tools that are actually available in the list above
3. Include analysis actions for complex reasoning
4. End with a response action to synthesize results
5. Consider dependencies between actions - use the actual UUID of dependent actions
6. Be specific with tool arguments based on the user query
7. If the query is unclear, plan to ask for clarification
8. Do not include time estimates or duration fields

Return ONLY the JSON plan, no other text.`)

	return b.String()
}

// describeParameters renders a tool's input schema as indented parameter
// lines, marking required fields with "*".
func describeParameters(schema map[string]any) []string {
	if schema == nil {
		return nil
	}
	properties, _ := schema["properties"].(map[string]any)
	if len(properties) == 0 {
		return nil
	}

	required := map[string]bool{}
	if raw, ok := schema["required"].([]any); ok {
		for _, r := range raw {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		paramType := "unknown"
		paramDesc := "No description"
		if details, ok := properties[name].(map[string]any); ok {
			if t, ok := details["type"].(string); ok {
				paramType = t
			}
			if d, ok := details["description"].(string); ok {
				paramDesc = d
			}
		}
		marker := ""
		if required[name] {
			marker = "*"
		}
		lines = append(lines, fmt.Sprintf("  - %s (%s%s): %s", name, paramType, marker, paramDesc))
	}
	return lines
}
