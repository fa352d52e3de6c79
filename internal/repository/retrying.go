package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/pkg/models"
)

// RetryingExecutionStore retries operations on the wrapped store while they
// fail with models.ErrTransientStore. Any other error is returned at once.
type RetryingExecutionStore struct {
	next       ExecutionStore
	maxElapsed time.Duration
	logger     *logging.Logger
}

// NewRetryingExecutionStore wraps next. maxElapsed bounds the total time spent
// retrying a single call; zero means one attempt only.
func NewRetryingExecutionStore(next ExecutionStore, maxElapsed time.Duration, logger *logging.Logger) *RetryingExecutionStore {
	return &RetryingExecutionStore{next: next, maxElapsed: maxElapsed, logger: logger}
}

func (s *RetryingExecutionStore) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	var out *models.WorkflowExecution
	err := s.retry(ctx, "get", func() error {
		var err error
		out, err = s.next.Get(ctx, id)
		return err
	})
	return out, err
}

func (s *RetryingExecutionStore) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	return s.retry(ctx, "save", func() error {
		return s.next.Save(ctx, execution)
	})
}

func (s *RetryingExecutionStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	var out []*models.WorkflowExecution
	err := s.retry(ctx, "list_by_workflow", func() error {
		var err error
		out, err = s.next.ListByWorkflow(ctx, workflowID)
		return err
	})
	return out, err
}

func (s *RetryingExecutionStore) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	var out []*models.WorkflowExecution
	err := s.retry(ctx, "list_by_status", func() error {
		var err error
		out, err = s.next.ListByStatus(ctx, status)
		return err
	})
	return out, err
}

func (s *RetryingExecutionStore) retry(ctx context.Context, op string, fn func() error) error {
	if s.maxElapsed <= 0 {
		return fn()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = s.maxElapsed

	notify := func(err error, wait time.Duration) {
		s.logger.Warn("execution store unavailable, retrying", "op", op, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !errors.Is(err, models.ErrTransientStore) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), notify)
}
