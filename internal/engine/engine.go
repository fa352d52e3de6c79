// Package engine drives workflow executions through their steps. It owns the
// execution state machine: every transition is applied under a per-execution
// lock, persisted, and then published as exactly one event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agent-orchestrator/backend/internal/events"
	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/internal/repository"
	"agent-orchestrator/backend/pkg/models"
)

const (
	msgNoSteps          = "No steps to execute"
	msgCompleted        = "Workflow completed successfully"
	msgOptionalFailure  = "Workflow completed with non-required step failure"
	msgReviewCompleted  = "Workflow completed after human review"
	msgCancelled        = "Execution cancelled"
	msgReviewRejected   = "Human review rejected"
	requiredFailureTmpl = "Required step failed: %s - %s"
)

// Engine drives executions.
type Engine struct {
	workflows  repository.WorkflowStore
	executions repository.ExecutionStore
	dispatcher *Dispatcher
	publisher  events.Publisher
	retry      RetryPolicy
	metrics    *Metrics
	logger     *logging.Logger
	locks      *lockTable
}

// Options holds the optional collaborators of an Engine.
type Options struct {
	Retry   RetryPolicy
	Metrics *Metrics
	Logger  *logging.Logger
}

// New creates an Engine.
func New(workflows repository.WorkflowStore, executions repository.ExecutionStore, dispatcher *Dispatcher, publisher events.Publisher, opts Options) *Engine {
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Engine{
		workflows:  workflows,
		executions: executions,
		dispatcher: dispatcher,
		publisher:  publisher,
		retry:      opts.Retry,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "engine"),
		locks:      newLockTable(),
	}
}

// transition mutates a loaded execution and returns the events to publish
// once the new state is saved. Returning an error aborts without saving.
type transition func(x *models.WorkflowExecution) ([]models.WorkflowEvent, error)

// mutate applies fn to the stored execution under its lock, saves the result
// and publishes the events fn produced.
func (e *Engine) mutate(ctx context.Context, id string, fn transition) (*models.WorkflowExecution, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	x, err := e.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	x.EnsureMaps()
	evts, err := fn(x)
	if err != nil {
		return nil, err
	}
	if err := e.executions.Save(ctx, x); err != nil {
		return nil, fmt.Errorf("failed to save execution %s: %w", id, err)
	}
	for _, ev := range evts {
		e.publisher.Publish(ctx, ev)
	}
	return x, nil
}

func (e *Engine) event(t models.WorkflowEventType, x *models.WorkflowExecution, step *models.WorkflowStep, msg string) []models.WorkflowEvent {
	ev := models.WorkflowEvent{
		Type:         t,
		WorkflowID:   x.WorkflowID,
		WorkflowName: x.WorkflowName,
		ExecutionID:  x.ID,
		Status:       x.Status,
		Message:      msg,
		Timestamp:    time.Now().UTC(),
	}
	if step != nil {
		ev.StepID = step.ID
		ev.StepName = step.Name
	}
	return []models.WorkflowEvent{ev}
}

func conflict(x *models.WorkflowExecution, action string) error {
	return fmt.Errorf("execution %s is %s, cannot %s: %w", x.ID, x.Status, action, models.ErrConflict)
}

// Start moves a PENDING execution to RUNNING and drives it until it
// terminates or suspends.
func (e *Engine) Start(ctx context.Context, executionID string) error {
	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	wf, err := e.workflows.GetVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if errors.Is(err, models.ErrNotFound) {
		return e.Fail(ctx, executionID, fmt.Sprintf("Workflow definition %s version %d not found", exec.WorkflowID, exec.WorkflowVersion))
	}
	if err != nil {
		return err
	}

	_, err = e.mutate(ctx, executionID, func(x *models.WorkflowExecution) ([]models.WorkflowEvent, error) {
		if x.Status != models.StatusPending {
			return nil, conflict(x, "start")
		}
		x.Status = models.StatusRunning
		return e.event(models.EventExecutionStarted, x, nil, ""), nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("execution started", "execution_id", executionID, "workflow_id", wf.ID, "version", wf.Version)

	if len(wf.Steps) == 0 {
		return e.complete(ctx, executionID, msgNoSteps)
	}
	entry, ok := wf.EntryStep()
	if !ok {
		return e.Fail(ctx, executionID, "Workflow has no step with sequence 1")
	}
	return e.drive(ctx, executionID, wf, entry.ID)
}

// Continue picks up an execution left unfinished by a previous process. A
// PENDING execution is started; a RUNNING one re-dispatches its current step.
// Other statuses need no work.
func (e *Engine) Continue(ctx context.Context, executionID string) error {
	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	switch exec.Status {
	case models.StatusPending:
		return e.Start(ctx, executionID)
	case models.StatusRunning:
	default:
		return nil
	}

	wf, err := e.workflows.GetVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if errors.Is(err, models.ErrNotFound) {
		return e.Fail(ctx, executionID, fmt.Sprintf("Workflow definition %s version %d not found", exec.WorkflowID, exec.WorkflowVersion))
	}
	if err != nil {
		return err
	}
	stepID := exec.CurrentStepID
	if stepID == "" {
		entry, ok := wf.EntryStep()
		if !ok {
			if len(wf.Steps) == 0 {
				return e.complete(ctx, executionID, msgNoSteps)
			}
			return e.Fail(ctx, executionID, "Workflow has no step with sequence 1")
		}
		stepID = entry.ID
	}
	e.logger.Info("resuming execution", "execution_id", executionID, "step_id", stepID)
	return e.drive(ctx, executionID, wf, stepID)
}

// drive runs steps starting at stepID until the chain ends, the execution
// suspends or a transition is refused.
func (e *Engine) drive(ctx context.Context, executionID string, wf *models.Workflow, stepID string) error {
	for stepID != "" {
		next, err := e.runStep(ctx, executionID, wf, stepID)
		if err != nil {
			if errors.Is(err, models.ErrTransientStore) {
				e.logger.Error("execution store unavailable, abandoning execution",
					"execution_id", executionID, "step_id", stepID, "error", err)
			}
			return err
		}
		stepID = next
	}
	return nil
}

// runStep executes one step, retrying it as the policy allows, and returns the
// id of the step to run next ("" when the execution terminated or suspended).
func (e *Engine) runStep(ctx context.Context, executionID string, wf *models.Workflow, stepID string) (string, error) {
	step, ok := wf.StepByID(stepID)
	if !ok {
		return "", e.Fail(ctx, executionID, fmt.Sprintf("Step not found: %s", stepID))
	}

	for {
		exec, err := e.mutate(ctx, executionID, func(x *models.WorkflowExecution) ([]models.WorkflowEvent, error) {
			if x.Status != models.StatusRunning {
				return nil, conflict(x, "start step "+step.Name)
			}
			x.CurrentStepID = step.ID
			return e.event(models.EventStepStarted, x, step, ""), nil
		})
		if err != nil {
			return "", err
		}

		outcome := e.dispatcher.Dispatch(ctx, exec, step)
		e.metrics.stepDispatched(ctx, step.Type, outcome.Kind)

		switch outcome.Kind {
		case OutcomeSuspend:
			return "", e.suspend(ctx, executionID, step)
		case OutcomeResult:
			return e.succeed(ctx, executionID, wf, step, outcome.Result)
		}
		// Interrupted by shutdown: the step is not charged and the execution
		// stays RUNNING at this step.
		if err := ctx.Err(); err != nil {
			e.logger.Info("step interrupted", "execution_id", executionID, "step_id", step.ID, "error", err)
			return "", err
		}

		delay, retry, err := e.stepFailed(ctx, executionID, step, outcome.Err)
		if err != nil {
			return "", err
		}
		if !retry {
			return e.afterFailure(ctx, executionID, wf, step, outcome.Err.Error())
		}
		e.metrics.stepRetried(ctx, step.Type)
		e.logger.Info("retrying step",
			"execution_id", executionID, "step_id", step.ID, "delay", delay, "error", outcome.Err)
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (e *Engine) succeed(ctx context.Context, executionID string, wf *models.Workflow, step *models.WorkflowStep, res string) (string, error) {
	late := false
	x, err := e.mutate(ctx, executionID, func(x *models.WorkflowExecution) ([]models.WorkflowEvent, error) {
		if x.Status != models.StatusRunning && !x.Status.IsTerminal() {
			return nil, conflict(x, "complete step "+step.Name)
		}
		x.RecordResult(step.ID, res)
		if x.Status.IsTerminal() {
			late = true
			return nil, nil
		}
		return e.event(models.EventStepCompleted, x, step, ""), nil
	})
	if err != nil {
		return "", err
	}
	if late {
		e.logger.Info("late step result recorded on finished execution",
			"execution_id", executionID, "step_id", step.ID, "status", x.Status)
		return "", conflict(x, "complete step "+step.Name)
	}

	next := wf.NextStepID(step, true)
	if next == "" {
		return "", e.complete(ctx, executionID, msgCompleted)
	}
	return next, nil
}

// stepFailed records a failed attempt and asks the retry policy whether to
// run the step again.
func (e *Engine) stepFailed(ctx context.Context, executionID string, step *models.WorkflowStep, cause error) (time.Duration, bool, error) {
	var delay time.Duration
	var retry bool
	_, err := e.mutate(ctx, executionID, func(x *models.WorkflowExecution) ([]models.WorkflowEvent, error) {
		if x.Status != models.StatusRunning {
			return nil, conflict(x, "fail step "+step.Name)
		}
		used := x.StepRetries[step.ID]
		delay, retry = e.retry.Decide(step, used, cause)
		if retry {
			x.StepRetries[step.ID] = used + 1
		}
		return e.event(models.EventStepFailed, x, step, cause.Error()), nil
	})
	if err != nil {
		return 0, false, err
	}
	e.logger.Warn("step failed", "execution_id", executionID, "step_id", step.ID, "retry", retry, "error", cause)
	return delay, retry, nil
}

// afterFailure follows the failure edge of step or terminates the execution.
func (e *Engine) afterFailure(ctx context.Context, executionID string, wf *models.Workflow, step *models.WorkflowStep, reason string) (string, error) {
	if next := wf.NextStepID(step, false); next != "" {
		return next, nil
	}
	if step.Required {
		return "", e.Fail(ctx, executionID, fmt.Sprintf(requiredFailureTmpl, step.Name, reason))
	}
	return "", e.complete(ctx, executionID, msgOptionalFailure)
}

func (e *Engine) suspend(ctx context.Context, executionID string, step *models.WorkflowStep) error {
	_, err := e.mutate(ctx, executionID, func(x *models.WorkflowExecution) ([]models.WorkflowEvent, error) {
		if x.Status != models.StatusRunning {
			return nil, conflict(x, "wait for human review")
		}
		x.Status = models.StatusWaitingForHuman
		return e.event(models.EventHumanReviewRequested, x, step, step.Prompt), nil
	})
	if err == nil {
		e.logger.Info("waiting for human review", "execution_id", executionID, "step_id", step.ID)
	}
	return err
}

// ResumeHumanReview records a reviewer's decision on the step an execution is
// waiting on and continues the execution on the calling goroutine. approved
// selects the success or the failure edge.
func (e *Engine) ResumeHumanReview(ctx context.Context, executionID, stepID, result string, approved bool) error {
	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	wf, err := e.workflows.GetVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return err
	}

	var (
		step     *models.WorkflowStep
		next     string
		final    models.ExecutionStatus
		finalMsg string
	)
	_, err = e.mutate(ctx, executionID, func(x *models.WorkflowExecution) ([]models.WorkflowEvent, error) {
		if x.Status != models.StatusWaitingForHuman || x.CurrentStepID != stepID {
			return nil, conflict(x, "resume human review of step "+stepID)
		}
		s, ok := wf.StepByID(stepID)
		if !ok {
			return nil, fmt.Errorf("step %s: %w", stepID, models.ErrNotFound)
		}
		step = s
		x.RecordResult(stepID, result)
		x.Status = models.StatusRunning
		decision := "approved"
		if !approved {
			decision = "rejected"
		}
		evts := e.event(models.EventHumanReviewCompleted, x, step, decision)

		// The chosen edge is saved together with the decision.
		next = wf.NextStepID(step, approved)
		if next != "" {
			x.CurrentStepID = next
			return evts, nil
		}
		final, finalMsg = reviewOutcome(step, approved)
		end, err := e.terminate(x, final, finalMsg)
		if err != nil {
			return nil, err
		}
		return append(evts, end...), nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("human review completed", "execution_id", executionID, "step_id", stepID, "approved", approved)

	if next == "" {
		e.finished(ctx, executionID, final, finalMsg)
		return nil
	}
	if err := e.drive(ctx, executionID, wf, next); err != nil && !errors.Is(err, models.ErrConflict) {
		e.logger.Error("execution stopped after human review", "execution_id", executionID, "error", err)
	}
	return nil
}

// reviewOutcome is the terminal status of an execution whose review step has
// no outgoing edge for the decision.
func reviewOutcome(step *models.WorkflowStep, approved bool) (models.ExecutionStatus, string) {
	switch {
	case approved:
		return models.StatusCompleted, msgReviewCompleted
	case step.Required:
		return models.StatusFailed, fmt.Sprintf(requiredFailureTmpl, step.Name, msgReviewRejected)
	default:
		return models.StatusCompleted, msgOptionalFailure
	}
}

// Cancel moves a non-terminal execution to CANCELLED. A step already in
// flight keeps running; its result is recorded but cannot change the status.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	_, err := e.mutate(ctx, executionID, func(x *models.WorkflowExecution) ([]models.WorkflowEvent, error) {
		if x.Status.IsTerminal() {
			return nil, conflict(x, "cancel")
		}
		now := time.Now().UTC()
		x.Status = models.StatusCancelled
		x.EndTime = &now
		return e.event(models.EventExecutionCancelled, x, nil, msgCancelled), nil
	})
	if err != nil {
		return err
	}
	e.metrics.executionFinished(ctx, models.StatusCancelled)
	e.logger.Info("execution cancelled", "execution_id", executionID)
	return nil
}

// Fail moves a non-terminal execution to FAILED with message as its error.
func (e *Engine) Fail(ctx context.Context, executionID, message string) error {
	return e.finish(ctx, executionID, models.StatusFailed, message)
}

func (e *Engine) complete(ctx context.Context, executionID, message string) error {
	return e.finish(ctx, executionID, models.StatusCompleted, message)
}

func (e *Engine) finish(ctx context.Context, executionID string, status models.ExecutionStatus, message string) error {
	_, err := e.mutate(ctx, executionID, func(x *models.WorkflowExecution) ([]models.WorkflowEvent, error) {
		return e.terminate(x, status, message)
	})
	if err != nil {
		return err
	}
	e.finished(ctx, executionID, status, message)
	return nil
}

// terminate moves x to a terminal status and returns the matching event.
func (e *Engine) terminate(x *models.WorkflowExecution, status models.ExecutionStatus, message string) ([]models.WorkflowEvent, error) {
	if !x.Status.CanTransitionTo(status) {
		return nil, conflict(x, "move to "+string(status))
	}
	now := time.Now().UTC()
	x.Status = status
	x.EndTime = &now
	t := models.EventExecutionCompleted
	if status == models.StatusFailed {
		x.ErrorMessage = message
		t = models.EventExecutionFailed
	}
	return e.event(t, x, nil, message), nil
}

func (e *Engine) finished(ctx context.Context, executionID string, status models.ExecutionStatus, message string) {
	e.metrics.executionFinished(ctx, status)
	if status == models.StatusFailed {
		e.logger.Warn("execution failed", "execution_id", executionID, "reason", message)
	} else {
		e.logger.Info("execution completed", "execution_id", executionID, "message", message)
	}
}
