package resilience

import (
	"context"
	"fmt"

	"agent-orchestrator/backend/internal/engine"
	"agent-orchestrator/backend/pkg/models"
)

// GuardedInvoker runs every agent call through a Policy.
type GuardedInvoker struct {
	next   engine.AgentInvoker
	policy Policy
}

func NewGuardedInvoker(next engine.AgentInvoker, policy Policy) *GuardedInvoker {
	return &GuardedInvoker{next: next, policy: policy}
}

func (g *GuardedInvoker) Invoke(ctx context.Context, agentID string, req models.AgentRequest) (*models.AgentResponse, error) {
	var resp *models.AgentResponse
	err := g.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.next.Invoke(ctx, agentID, req)
		return err
	})
	if err != nil {
		if Rejected(err) {
			return nil, fmt.Errorf("%w: %w", models.ErrAgentInvocation, err)
		}
		return nil, err
	}
	return resp, nil
}

// GuardedEvaluator runs every condition evaluation through a Policy.
type GuardedEvaluator struct {
	next   engine.ConditionEvaluator
	policy Policy
}

func NewGuardedEvaluator(next engine.ConditionEvaluator, policy Policy) *GuardedEvaluator {
	return &GuardedEvaluator{next: next, policy: policy}
}

func (g *GuardedEvaluator) Evaluate(ctx context.Context, expression string, exec *models.WorkflowExecution) (bool, error) {
	var ok bool
	err := g.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		ok, err = g.next.Evaluate(ctx, expression, exec)
		return err
	})
	return ok, err
}
