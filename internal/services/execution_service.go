package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"agent-orchestrator/backend/internal/engine"
	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/internal/repository"
	"agent-orchestrator/backend/pkg/models"
)

// ExecutionService starts and controls workflow executions.
type ExecutionService struct {
	workflows  repository.WorkflowStore
	executions repository.ExecutionStore
	engine     Engine
	pool       Submitter
	metrics    *engine.Metrics
	logger     *logging.Logger
}

// NewExecutionService creates a new ExecutionService.
func NewExecutionService(workflows repository.WorkflowStore, executions repository.ExecutionStore, eng Engine, pool Submitter, metrics *engine.Metrics, logger *logging.Logger) *ExecutionService {
	if metrics == nil {
		metrics = engine.NopMetrics()
	}
	return &ExecutionService{
		workflows:  workflows,
		executions: executions,
		engine:     eng,
		pool:       pool,
		metrics:    metrics,
		logger:     logger,
	}
}

// CreateExecution records a PENDING execution of the latest version of
// workflowID and queues it. The returned execution is the PENDING snapshot.
// When the pool is saturated the execution is marked FAILED and the pool
// error is returned.
func (s *ExecutionService) CreateExecution(ctx context.Context, workflowID string, inputs map[string]any) (*models.WorkflowExecution, error) {
	workflow, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	metadata, err := stringifyInputs(inputs)
	if err != nil {
		return nil, err
	}

	exec := &models.WorkflowExecution{
		ID:              uuid.New().String(),
		WorkflowID:      workflow.ID,
		WorkflowName:    workflow.Name,
		WorkflowVersion: workflow.Version,
		Status:          models.StatusPending,
		StepResults:     map[string]string{},
		StepRetries:     map[string]int{},
		Metadata:        metadata,
		StartTime:       time.Now().UTC(),
	}
	if err := s.executions.Save(ctx, exec); err != nil {
		return nil, err
	}
	snapshot := exec.Clone()

	if err := s.submit(exec.ID, s.engine.Start); err != nil {
		s.metrics.ExecutionRejected(ctx)
		s.logger.Warn("execution rejected", "execution_id", exec.ID, "error", err)
		if ferr := s.engine.Fail(context.WithoutCancel(ctx), exec.ID, "Execution rejected: "+err.Error()); ferr != nil {
			s.logger.Error("failed to mark rejected execution", "execution_id", exec.ID, "error", ferr)
		}
		return nil, fmt.Errorf("execution %s: %w", exec.ID, err)
	}
	s.logger.Info("execution queued", "execution_id", exec.ID, "workflow_id", workflow.ID, "version", workflow.Version)
	return snapshot, nil
}

// GetExecution returns an execution by id.
func (s *ExecutionService) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return s.executions.Get(ctx, id)
}

// ListExecutions returns the executions of a workflow, oldest first.
func (s *ExecutionService) ListExecutions(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return s.executions.ListByWorkflow(ctx, workflowID)
}

// CancelExecution cancels a non-terminal execution and returns its new state.
func (s *ExecutionService) CancelExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	if err := s.engine.Cancel(ctx, id); err != nil {
		return nil, err
	}
	return s.executions.Get(ctx, id)
}

// ResumeHumanReview applies a reviewer's decision. The execution continues on
// the calling goroutine and is not interrupted if the caller's context ends.
func (s *ExecutionService) ResumeHumanReview(ctx context.Context, id, stepID, result string, approved bool) (*models.WorkflowExecution, error) {
	if err := s.engine.ResumeHumanReview(context.WithoutCancel(ctx), id, stepID, result, approved); err != nil {
		return nil, err
	}
	return s.executions.Get(ctx, id)
}

// Recover queues every execution left PENDING or RUNNING by a previous
// process. It returns how many were queued.
func (s *ExecutionService) Recover(ctx context.Context) (int, error) {
	var pending []*models.WorkflowExecution
	for _, status := range []models.ExecutionStatus{models.StatusRunning, models.StatusPending} {
		found, err := s.executions.ListByStatus(ctx, status)
		if err != nil {
			return 0, err
		}
		pending = append(pending, found...)
	}

	queued := 0
	for _, exec := range pending {
		if err := s.submit(exec.ID, s.engine.Continue); err != nil {
			s.logger.Warn("recovery stopped, remaining executions left for next start",
				"queued", queued, "remaining", len(pending)-queued, "error", err)
			return queued, nil
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("recovered executions", "count", queued)
	}
	return queued, nil
}

func (s *ExecutionService) submit(id string, run func(context.Context, string) error) error {
	return s.pool.Submit(func(ctx context.Context) {
		if err := run(ctx, id); err != nil {
			if errors.Is(err, models.ErrConflict) {
				s.logger.Info("execution stopped", "execution_id", id, "reason", err)
				return
			}
			if ctx.Err() != nil {
				s.logger.Info("execution interrupted, resumes on next start", "execution_id", id, "reason", err)
				return
			}
			s.logger.Error("execution run failed", "execution_id", id, "error", err)
		}
	})
}

// stringifyInputs flattens execution inputs into string metadata. Strings are
// kept as is; other values are stored as JSON.
func stringifyInputs(inputs map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(inputs))
	for k, v := range inputs {
		if str, ok := v.(string); ok {
			out[k] = str
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: input %q: %v", models.ErrValidation, k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}
