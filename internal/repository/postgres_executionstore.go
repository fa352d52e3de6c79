package repository

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agent-orchestrator/backend/pkg/models"
)

const executionColumns = `id, workflow_id, workflow_name, workflow_version, status, current_step_id,
	step_results, step_retries, metadata, start_time, end_time, error_message, step_order`

// PostgresExecutionStore is a PostgreSQL implementation of ExecutionStore.
type PostgresExecutionStore struct {
	db *pgxpool.Pool
}

// NewPostgresExecutionStore creates a new PostgresExecutionStore.
func NewPostgresExecutionStore(db *pgxpool.Pool) *PostgresExecutionStore {
	return &PostgresExecutionStore{db: db}
}

// Get retrieves an execution by its ID.
func (s *PostgresExecutionStore) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := s.db.QueryRow(ctx, "SELECT "+executionColumns+" FROM workflow_executions WHERE id = $1", id)
	exec, err := scanExecution(row)
	if err != nil {
		return nil, fmt.Errorf("execution %s: %w", id, err)
	}
	return exec, nil
}

// Save upserts an execution. The conflict clause refuses to move a terminal
// row to another status, and an end time once written is never replaced.
func (s *PostgresExecutionStore) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	results, err := json.Marshal(nonNilStrings(execution.StepResults))
	if err != nil {
		return fmt.Errorf("failed to encode step results: %w", err)
	}
	retries := execution.StepRetries
	if retries == nil {
		retries = map[string]int{}
	}
	retriesJSON, err := json.Marshal(retries)
	if err != nil {
		return fmt.Errorf("failed to encode step retries: %w", err)
	}
	metadata, err := json.Marshal(nonNilStrings(execution.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	order := execution.StepOrder
	if order == nil {
		order = []string{}
	}
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode step order: %w", err)
	}

	var endTime *time.Time
	err = s.db.QueryRow(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, NULLIF($12, ''), $13)
		ON CONFLICT (id) DO UPDATE SET
			status          = EXCLUDED.status,
			current_step_id = EXCLUDED.current_step_id,
			step_results    = EXCLUDED.step_results,
			step_retries    = EXCLUDED.step_retries,
			metadata        = EXCLUDED.metadata,
			end_time        = COALESCE(workflow_executions.end_time, EXCLUDED.end_time),
			error_message   = EXCLUDED.error_message,
			step_order      = EXCLUDED.step_order
		WHERE workflow_executions.status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
		   OR workflow_executions.status = EXCLUDED.status
		RETURNING end_time`,
		execution.ID, execution.WorkflowID, execution.WorkflowName, execution.WorkflowVersion,
		execution.Status, execution.CurrentStepID, string(results), string(retriesJSON), string(metadata),
		execution.StartTime, execution.EndTime, execution.ErrorMessage, string(orderJSON),
	).Scan(&endTime)
	if err != nil {
		err = classify(err)
		if isNotFound(err) {
			return fmt.Errorf("execution %s is terminal, cannot save as %s: %w",
				execution.ID, execution.Status, models.ErrConflict)
		}
		return err
	}
	execution.EndTime = endTime
	return nil
}

// ListByWorkflow returns the executions of one workflow, oldest first.
func (s *PostgresExecutionStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return s.query(ctx, "SELECT "+executionColumns+" FROM workflow_executions WHERE workflow_id = $1 ORDER BY start_time, id", workflowID)
}

// ListByStatus returns the executions currently in status, oldest first.
func (s *PostgresExecutionStore) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	return s.query(ctx, "SELECT "+executionColumns+" FROM workflow_executions WHERE status = $1 ORDER BY start_time, id", status)
}

func (s *PostgresExecutionStore) query(ctx context.Context, sql string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	executions := make([]*models.WorkflowExecution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, classify(rows.Err())
}

func scanExecution(row pgx.Row) (*models.WorkflowExecution, error) {
	var exec models.WorkflowExecution
	var currentStep, errorMessage *string
	var results, retries, metadata, order []byte
	err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.WorkflowName, &exec.WorkflowVersion, &exec.Status,
		&currentStep, &results, &retries, &metadata, &exec.StartTime, &exec.EndTime, &errorMessage, &order)
	if err != nil {
		return nil, classify(err)
	}
	if currentStep != nil {
		exec.CurrentStepID = *currentStep
	}
	if errorMessage != nil {
		exec.ErrorMessage = *errorMessage
	}
	if err := json.Unmarshal(results, &exec.StepResults); err != nil {
		return nil, fmt.Errorf("failed to decode step results: %w", err)
	}
	if err := json.Unmarshal(retries, &exec.StepRetries); err != nil {
		return nil, fmt.Errorf("failed to decode step retries: %w", err)
	}
	if err := json.Unmarshal(metadata, &exec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if err := json.Unmarshal(order, &exec.StepOrder); err != nil {
		return nil, fmt.Errorf("failed to decode step order: %w", err)
	}
	exec.EnsureMaps()
	return &exec, nil
}
