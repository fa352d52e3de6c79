package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"agent-orchestrator/backend/pkg/models"
)

// AgentInvoker calls an agent and returns its response.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID string, req models.AgentRequest) (*models.AgentResponse, error)
}

// ConditionEvaluator evaluates a condition expression against an execution.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string, execution *models.WorkflowExecution) (bool, error)
}

// OutcomeKind tells the engine what a dispatched step produced.
type OutcomeKind int

const (
	OutcomeResult OutcomeKind = iota
	OutcomeSuspend
	OutcomeFailure
)

// Outcome is the result of dispatching one step.
type Outcome struct {
	Kind   OutcomeKind
	Result string
	Err    error
}

func result(r string) Outcome   { return Outcome{Kind: OutcomeResult, Result: r} }
func failure(err error) Outcome { return Outcome{Kind: OutcomeFailure, Err: err} }

// Dispatcher performs the effect of a single step.
type Dispatcher struct {
	agents      AgentInvoker
	conditions  ConditionEvaluator
	stepTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. A zero stepTimeout leaves agent calls
// bounded only by the caller's context.
func NewDispatcher(agents AgentInvoker, conditions ConditionEvaluator, stepTimeout time.Duration) *Dispatcher {
	return &Dispatcher{agents: agents, conditions: conditions, stepTimeout: stepTimeout}
}

// Dispatch runs step for execution.
func (d *Dispatcher) Dispatch(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) Outcome {
	switch step.Type {
	case models.StepTypeAgentExecution:
		return d.agent(ctx, execution, step)
	case models.StepTypeCondition:
		return d.condition(ctx, execution, step)
	case models.StepTypeHumanReview:
		return Outcome{Kind: OutcomeSuspend}
	case models.StepTypeWait:
		return d.wait(ctx, step)
	default:
		return failure(fmt.Errorf("%w: unsupported step type %q", models.ErrValidation, step.Type))
	}
}

func (d *Dispatcher) agent(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) Outcome {
	if step.AgentID == "" {
		return failure(fmt.Errorf("%w: missing agent id", models.ErrValidation))
	}
	req := models.AgentRequest{
		Prompt: step.Prompt,
		Parameters: map[string]any{
			"workflowId":  execution.WorkflowID,
			"executionId": execution.ID,
			"stepResults": execution.StepResults,
			"metadata":    execution.Metadata,
		},
	}

	if d.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.stepTimeout)
		defer cancel()
	}
	resp, err := d.agents.Invoke(ctx, step.AgentID, req)
	if err != nil {
		return failure(fmt.Errorf("%w: agent %s: %w", models.ErrAgentInvocation, step.AgentID, err))
	}
	if !resp.Success {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "agent reported failure"
		}
		return failure(fmt.Errorf("%w: agent %s: %s", models.ErrAgentInvocation, step.AgentID, msg))
	}
	return result(resp.Result)
}

func (d *Dispatcher) condition(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) Outcome {
	if step.Condition == "" {
		return failure(fmt.Errorf("%w: missing condition expression", models.ErrValidation))
	}
	ok, err := d.conditions.Evaluate(ctx, step.Condition, execution)
	if err != nil {
		return failure(err)
	}
	return result(strconv.FormatBool(ok))
}

func (d *Dispatcher) wait(ctx context.Context, step *models.WorkflowStep) Outcome {
	if err := sleep(ctx, step.WaitDuration()); err != nil {
		return failure(err)
	}
	return result("Wait completed")
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
