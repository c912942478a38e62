package executioner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/senarios/aris/pkg/models"
)

// templatePattern matches {{action_ref.field[.subfield…]}} references.
var templatePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// documentProducingTools produce file artifacts; they are preferred when a template
// field path asks for a URL.
var documentProducingTools = map[string]bool{
	"create_pdf": true,
}

// structuredDataTools return structured data payloads; they are preferred
// for generic data references.
var structuredDataTools = map[string]bool{
	"create_pdf":             true,
	"get_fake_data":          true,
	"get_machine":            true,
	"get_machine_group":      true,
	"get_production_summary": true,
}

// resolveTemplates substitutes {{action.field}} references in an action's
// arguments from session memory. Resolution recurses into nested objects
// and lists and is read-only with respect to the plan store and memory
// contents. Unresolvable references are left verbatim.
func (e *Executioner) resolveTemplates(ctx context.Context, args map[string]any, plan *models.ExecutionPlan) map[string]any {
	if args == nil {
		return nil
	}

	resolved := make(map[string]any, len(args))
	for key, value := range args {
		resolved[key] = e.resolveValue(ctx, value, plan)
	}
	return resolved
}

func (e *Executioner) resolveValue(ctx context.Context, value any, plan *models.ExecutionPlan) any {
	switch v := value.(type) {
	case string:
		if strings.Contains(v, "{{") && strings.Contains(v, "}}") {
			return e.resolveString(ctx, v, plan)
		}
		return v
	case map[string]any:
		return e.resolveTemplates(ctx, v, plan)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = e.resolveValue(ctx, item, plan)
		}
		return out
	default:
		return value
	}
}

func (e *Executioner) resolveString(ctx context.Context, value string, plan *models.ExecutionPlan) string {
	matches := templatePattern.FindAllStringSubmatch(value, -1)
	resolved := value

	for _, match := range matches {
		ref := match[1]
		parts := strings.Split(ref, ".")
		if len(parts) < 2 {
			continue
		}
		actionRef := parts[0]
		fieldPath := parts[1:]

		replacement, ok := e.resolveReference(ctx, plan, actionRef, fieldPath)
		if !ok {
			e.logger.Warn("Could not resolve template variable", "reference", ref)
			continue
		}
		resolved = strings.ReplaceAll(resolved, "{{"+ref+"}}", replacement)
	}
	return resolved
}

// resolveReference locates the referenced result and navigates the field
// path. A reference naming a real sibling action id resolves directly;
// otherwise the planner invented the label and ordered heuristics pick the
// best completed sibling.
func (e *Executioner) resolveReference(ctx context.Context, plan *models.ExecutionPlan, actionRef string, fieldPath []string) (string, bool) {
	stored, found := e.lookup(ctx, actionRef)
	if !found {
		stored, found = e.lookupHeuristic(ctx, plan, fieldPath)
	}
	if !found {
		return "", false
	}

	if current, ok := navigate(stored, fieldPath); ok {
		return stringify(current), true
	}

	// Field navigation failed. Two special cases keep planner-invented
	// paths useful: a bare ".result" maps to an analysis action's
	// formatted_content, or to the whole JSON result.
	if len(fieldPath) == 1 && fieldPath[0] == "result" {
		if m, ok := stored.(map[string]any); ok {
			if formatted, ok := m["formatted_content"].(string); ok {
				return formatted, true
			}
			return stringify(m), true
		}
	}
	return "", false
}

// lookup fetches tool_result_<ref> from memory.
func (e *Executioner) lookup(ctx context.Context, actionRef string) (any, bool) {
	value, ok, err := e.memory.Get(ctx, e.sessionID, models.ToolResultKey(actionRef))
	if err != nil || !ok {
		return nil, false
	}
	return value, true
}

// lookupHeuristic applies the ordered fallbacks for planner-invented
// labels against completed sibling actions:
//  1. URL-ish field paths prefer a document-producing tool
//  2. tools known to return structured data payloads
//  3. a completed analysis action
//  4. any completed action
func (e *Executioner) lookupHeuristic(ctx context.Context, plan *models.ExecutionPlan, fieldPath []string) (any, bool) {
	wantsURL := false
	for _, f := range fieldPath {
		if f == "file_url" || f == "url" {
			wantsURL = true
			break
		}
	}

	if wantsURL {
		if v, ok := e.firstCompleted(ctx, plan, func(a *models.PlannedAction) bool {
			return a.Type == models.ActionTypeToolCall && documentProducingTools[a.ToolName]
		}); ok {
			return v, true
		}
	}

	if v, ok := e.firstCompleted(ctx, plan, func(a *models.PlannedAction) bool {
		return a.Type == models.ActionTypeToolCall && structuredDataTools[a.ToolName]
	}); ok {
		return v, true
	}

	if v, ok := e.firstCompleted(ctx, plan, func(a *models.PlannedAction) bool {
		return a.Type == models.ActionTypeAnalysis
	}); ok {
		return v, true
	}

	return e.firstCompleted(ctx, plan, func(*models.PlannedAction) bool {
		return true
	})
}

func (e *Executioner) firstCompleted(ctx context.Context, plan *models.ExecutionPlan, keep func(*models.PlannedAction) bool) (any, bool) {
	for _, a := range plan.Actions {
		if a.Status != models.ActionStatusCompleted || !keep(a) {
			continue
		}
		if v, ok := e.lookup(ctx, a.ID); ok {
			return v, true
		}
	}
	return nil, false
}

// navigate walks a field path into a JSON value.
func navigate(value any, fieldPath []string) (any, bool) {
	current := value
	for _, field := range fieldPath {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[field]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// stringify serializes non-string values as pretty JSON for substitution.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any, []any:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
