package planstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/senarios/aris/pkg/models"
)

// SQLStore is the PostgreSQL-backed plan store.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a plan store over the shared pool.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CreatePlan atomically inserts the plan and all of its actions.
func (s *SQLStore) CreatePlan(ctx context.Context, plan *models.ExecutionPlan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create plan: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM plans WHERE id = $1)`, plan.PlanID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check plan id: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePlan, plan.PlanID)
	}

	metadata := plan.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode plan metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans
			(id, session_id, summary, status, user_query, model_id, temperature,
			 total_actions, completed_actions, failed_actions, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9)`,
		plan.PlanID, plan.SessionID, plan.Summary, string(plan.Status),
		plan.UserQuery, nullableStr(plan.ModelID), plan.Temperature,
		len(plan.Actions), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for i, action := range plan.Actions {
		argsJSON, err := marshalOrNil(action.Arguments)
		if err != nil {
			return fmt.Errorf("encode action arguments: %w", err)
		}
		dependsOn := action.DependsOn
		if dependsOn == nil {
			dependsOn = []string{}
		}
		dependsJSON, err := json.Marshal(dependsOn)
		if err != nil {
			return fmt.Errorf("encode depends_on: %w", err)
		}

		order := action.ExecutionOrder
		if order == 0 {
			order = i + 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO actions
				(id, plan_id, name, description, type, tool_name, arguments,
				 depends_on, status, execution_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			action.ID, plan.PlanID, action.Name, action.Description,
			string(action.Type), nullableStr(action.ToolName), argsJSON,
			dependsJSON, string(action.Status), order,
		)
		if err != nil {
			return fmt.Errorf("insert action %s: %w", action.ID, err)
		}
	}

	return tx.Commit()
}

// GetPlan returns the fully hydrated plan, or nil when absent.
func (s *SQLStore) GetPlan(ctx context.Context, planID string) (*models.ExecutionPlan, error) {
	plan, err := scanPlan(s.db.QueryRowContext(ctx, `
		SELECT id, session_id, summary, status, user_query, model_id, temperature,
		       total_actions, completed_actions, failed_actions,
		       created_at, started_at, completed_at
		FROM plans WHERE id = $1`, planID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plan %s: %w", planID, err)
	}

	if err := s.loadActions(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ActivePlan returns the most recent non-terminal plan for a session.
func (s *SQLStore) ActivePlan(ctx context.Context, sessionID string) (*models.ExecutionPlan, error) {
	plan, err := scanPlan(s.db.QueryRowContext(ctx, `
		SELECT id, session_id, summary, status, user_query, model_id, temperature,
		       total_actions, completed_actions, failed_actions,
		       created_at, started_at, completed_at
		FROM plans
		WHERE session_id = $1 AND status IN ('new', 'in_progress')
		ORDER BY created_at DESC
		LIMIT 1`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read active plan for %s: %w", sessionID, err)
	}

	if err := s.loadActions(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// UpdatePlanStatus sets the plan status with timing bookkeeping.
func (s *SQLStore) UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error {
	query := `UPDATE plans SET status = $2, updated_at = now()`
	if status == models.PlanStatusInProgress {
		query += `, started_at = COALESCE(started_at, now())`
	}
	if status.Terminal() {
		query += `, completed_at = now()`
	}
	query += ` WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, planID, string(status))
	if err != nil {
		return fmt.Errorf("update plan %s status: %w", planID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return nil
}

// UpdateActionStatus transitions a single action under a row lock so the
// monotonic check and the write are atomic.
func (s *SQLStore) UpdateActionStatus(ctx context.Context, planID, actionID string, status models.ActionStatus, result any, errorMessage string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin action update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM actions WHERE plan_id = $1 AND id = $2 FOR UPDATE`,
		planID, actionID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", ErrActionNotFound, planID, actionID)
	}
	if err != nil {
		return fmt.Errorf("read action %s: %w", actionID, err)
	}

	if err := validateTransition(models.ActionStatus(current), status); err != nil {
		return err
	}

	resultJSON, err := marshalOrNil(result)
	if err != nil {
		return fmt.Errorf("encode action result: %w", err)
	}

	query := `UPDATE actions SET status = $3, result = COALESCE($4, result),
		error_message = COALESCE(NULLIF($5, ''), error_message)`
	if status == models.ActionStatusStarting {
		query += `, started_at = COALESCE(started_at, now())`
	}
	if status.Terminal() {
		query += `, completed_at = now()`
	}
	query += ` WHERE plan_id = $1 AND id = $2`

	if _, err := tx.ExecContext(ctx, query, planID, actionID, string(status), resultJSON, errorMessage); err != nil {
		return fmt.Errorf("update action %s: %w", actionID, err)
	}

	// Counters are derivable but persisted for cheap queries.
	if status.Terminal() {
		if _, err := tx.ExecContext(ctx, `
			UPDATE plans SET
				completed_actions = (SELECT COUNT(*) FROM actions WHERE plan_id = $1 AND status = 'completed'),
				failed_actions    = (SELECT COUNT(*) FROM actions WHERE plan_id = $1 AND status = 'failed'),
				updated_at = now()
			WHERE id = $1`, planID); err != nil {
			return fmt.Errorf("update plan counters: %w", err)
		}
	}

	return tx.Commit()
}

// Statistics returns action-status counts for a plan.
func (s *SQLStore) Statistics(ctx context.Context, planID string) (Statistics, error) {
	var st Statistics
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'in_progress'),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM actions WHERE plan_id = $1`, planID,
	).Scan(&st.TotalActions, &st.Pending, &st.InProgress, &st.Completed, &st.Failed)
	if err != nil {
		return Statistics{}, fmt.Errorf("plan statistics: %w", err)
	}
	return st, nil
}

func (s *SQLStore) loadActions(ctx context.Context, plan *models.ExecutionPlan) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, type, tool_name, arguments, depends_on,
		       status, result, error_message, execution_order,
		       created_at, started_at, completed_at
		FROM actions WHERE plan_id = $1
		ORDER BY execution_order`, plan.PlanID)
	if err != nil {
		return fmt.Errorf("read actions for %s: %w", plan.PlanID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			a           models.PlannedAction
			toolName    sql.NullString
			argsJSON    []byte
			dependsRaw  []byte
			resultJSON  []byte
			errMsg      sql.NullString
			description sql.NullString
			startedAt   sql.NullTime
			completedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.Name, &description, (*string)(&a.Type),
			&toolName, &argsJSON, &dependsRaw, (*string)(&a.Status), &resultJSON,
			&errMsg, &a.ExecutionOrder, &a.CreatedAt, &startedAt, &completedAt); err != nil {
			return fmt.Errorf("scan action: %w", err)
		}
		a.PlanID = plan.PlanID
		a.Description = description.String
		a.ToolName = toolName.String
		a.ErrorMessage = errMsg.String
		if startedAt.Valid {
			a.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			a.CompletedAt = &completedAt.Time
		}
		if len(argsJSON) > 0 {
			if err := json.Unmarshal(argsJSON, &a.Arguments); err != nil {
				return fmt.Errorf("decode action arguments: %w", err)
			}
		}
		if len(dependsRaw) > 0 {
			if err := json.Unmarshal(dependsRaw, &a.DependsOn); err != nil {
				return fmt.Errorf("decode depends_on: %w", err)
			}
		}
		if len(resultJSON) > 0 {
			if err := json.Unmarshal(resultJSON, &a.Result); err != nil {
				return fmt.Errorf("decode action result: %w", err)
			}
		}
		plan.Actions = append(plan.Actions, &a)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*models.ExecutionPlan, error) {
	var (
		p           models.ExecutionPlan
		modelID     sql.NullString
		temp        sql.NullFloat64
		createdAt   time.Time
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&p.PlanID, &p.SessionID, &p.Summary, (*string)(&p.Status),
		&p.UserQuery, &modelID, &temp, &p.TotalActions, &p.CompletedActions,
		&p.FailedActions, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	p.ModelID = modelID.String
	if temp.Valid {
		p.Temperature = &temp.Float64
	}
	p.CreatedAt = createdAt
	if startedAt.Valid {
		p.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
