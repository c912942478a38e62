// Package planner turns a user query, the recent conversation window, and
// the discovered tool catalog into an execution plan.
package planner

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/senarios/aris/pkg/config"
	"github.com/senarios/aris/pkg/llm"
	"github.com/senarios/aris/pkg/models"
)

// planningTemperature keeps plan generation near-deterministic.
const planningTemperature = 0.1

const planningSystem = "You are an expert AI agent planner. Analyze user queries and create detailed execution plans using available tools."

// Planner creates execution plans via the LLM.
type Planner struct {
	llm     llm.Client
	modelID string
	logger  *slog.Logger
}

// New creates a planner. modelID may be empty to use the default model.
func New(client llm.Client, modelID string) *Planner {
	if modelID == "" {
		modelID = config.DefaultModelID
	}
	return &Planner{llm: client, modelID: modelID, logger: slog.Default()}
}

// planJSON is the shape the LLM is instructed to return.
type planJSON struct {
	Summary string       `json:"summary"`
	Actions []actionJSON `json:"actions"`
}

type actionJSON struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	DependsOn   []string       `json:"depends_on"`
}

// CreatePlan builds an execution plan for the user query. LLM failure or a
// schema violation falls back to the trivial analysis+response plan; it is
// never fatal to the turn. The returned plan is NOT persisted — that is the
// orchestrator's responsibility.
func (p *Planner) CreatePlan(ctx context.Context, userQuery string, turns []models.ConversationTurn, tools []models.ToolDescriptor, sessionID string) *models.ExecutionPlan {
	planID := uuid.New().String()

	prompt := buildPrompt(userQuery, turns, tools)

	response, err := p.llm.Converse(ctx, llm.ConverseInput{
		ModelID:     p.modelID,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		System:      planningSystem,
		Temperature: planningTemperature,
	})
	if err != nil {
		p.logger.Warn("Planning LLM call failed, using fallback plan",
			"session_id", sessionID, "error", err)
		return p.fallbackPlan(planID, sessionID, userQuery)
	}

	plan, err := p.parsePlan(planID, sessionID, userQuery, response)
	if err != nil {
		p.logger.Warn("Failed to parse plan response, using fallback plan",
			"session_id", sessionID, "error", err)
		return p.fallbackPlan(planID, sessionID, userQuery)
	}

	p.logger.Info("Created execution plan",
		"plan_id", plan.PlanID, "session_id", sessionID, "actions", len(plan.Actions))
	return plan
}

// parsePlan decodes the LLM output and remints action ids: the model emits
// its own short labels, which are replaced with fresh opaque ids and
// depends_on rewritten accordingly. A dependency that cannot be resolved is
// dropped with a warning, not an error.
func (p *Planner) parsePlan(planID, sessionID, userQuery, response string) (*models.ExecutionPlan, error) {
	var decoded planJSON
	if err := json.Unmarshal([]byte(extractJSON(response)), &decoded); err != nil {
		return nil, err
	}

	// First pass: mint a fresh id per model-emitted id.
	idMapping := make(map[string]string, len(decoded.Actions))
	for i, a := range decoded.Actions {
		oldID := a.ID
		if oldID == "" {
			oldID = "action_" + uuid.NewString()[:8] + "_" + string(rune('a'+i%26))
			decoded.Actions[i].ID = oldID
		}
		idMapping[oldID] = uuid.New().String()
	}

	// Second pass: build actions with rewritten dependencies.
	actions := make([]*models.PlannedAction, 0, len(decoded.Actions))
	for i, a := range decoded.Actions {
		actionType := models.ActionType(a.Type)
		if !actionType.Valid() {
			actionType = models.ActionTypeAnalysis
		}

		var dependsOn []string
		for _, dep := range a.DependsOn {
			mapped, ok := idMapping[dep]
			if !ok {
				p.logger.Warn("Dropping unresolvable dependency",
					"session_id", sessionID, "dependency", dep, "action", a.Name)
				continue
			}
			dependsOn = append(dependsOn, mapped)
		}

		name := a.Name
		if name == "" {
			name = "Unknown action"
		}
		description := a.Description
		if description == "" {
			description = "No description"
		}

		actions = append(actions, &models.PlannedAction{
			ID:             idMapping[a.ID],
			PlanID:         planID,
			Type:           actionType,
			Name:           name,
			Description:    description,
			ToolName:       a.ToolName,
			Arguments:      a.Arguments,
			DependsOn:      dependsOn,
			Status:         models.ActionStatusPending,
			ExecutionOrder: i + 1,
			CreatedAt:      time.Now(),
		})
	}

	summary := decoded.Summary
	if summary == "" {
		summary = "Execute user request"
	}

	return &models.ExecutionPlan{
		PlanID:       planID,
		SessionID:    sessionID,
		UserQuery:    userQuery,
		Summary:      summary,
		Status:       models.PlanStatusNew,
		Actions:      actions,
		TotalActions: len(actions),
		CreatedAt:    time.Now(),
	}, nil
}

// fallbackPlan is the deterministic two-action plan used whenever planning
// fails: analyze the request, then respond.
func (p *Planner) fallbackPlan(planID, sessionID, userQuery string) *models.ExecutionPlan {
	analyzeID := uuid.New().String()
	respondID := uuid.New().String()

	return &models.ExecutionPlan{
		PlanID:    planID,
		SessionID: sessionID,
		UserQuery: userQuery,
		Summary:   "Process user request and provide response",
		Status:    models.PlanStatusNew,
		Actions: []*models.PlannedAction{
			{
				ID:             analyzeID,
				PlanID:         planID,
				Type:           models.ActionTypeAnalysis,
				Name:           "Analyze user request",
				Description:    "Understand what the user is asking for",
				Status:         models.ActionStatusPending,
				ExecutionOrder: 1,
				CreatedAt:      time.Now(),
			},
			{
				ID:             respondID,
				PlanID:         planID,
				Type:           models.ActionTypeResponse,
				Name:           "Provide response",
				Description:    "Generate a helpful response to the user",
				DependsOn:      []string{analyzeID},
				Status:         models.ActionStatusPending,
				ExecutionOrder: 2,
				CreatedAt:      time.Now(),
			},
		},
		TotalActions: 2,
		CreatedAt:    time.Now(),
	}
}

// extractJSON trims markdown code fences some models wrap around JSON.
func extractJSON(response string) string {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}
