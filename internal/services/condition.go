package services

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"agent-orchestrator/backend/pkg/models"
)

// ExprConditionEvaluator evaluates CONDITION steps with expr-lang. An
// expression sees:
//
//	metadata     map of execution metadata
//	steps        map of step id to recorded result
//	workflowId   the workflow id
//	executionId  the execution id
//
// e.g. `steps["classify"] == "urgent" && metadata.priority != "low"`.
type ExprConditionEvaluator struct{}

func NewExprConditionEvaluator() *ExprConditionEvaluator {
	return &ExprConditionEvaluator{}
}

func conditionEnv(exec *models.WorkflowExecution) map[string]any {
	metadata := exec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	steps := exec.StepResults
	if steps == nil {
		steps = map[string]string{}
	}
	return map[string]any{
		"metadata":    metadata,
		"steps":       steps,
		"workflowId":  exec.WorkflowID,
		"executionId": exec.ID,
	}
}

// Evaluate compiles and runs expression. Compile errors, including a
// non-boolean result type, are validation errors.
func (e *ExprConditionEvaluator) Evaluate(ctx context.Context, expression string, exec *models.WorkflowExecution) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	env := conditionEnv(exec)
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("%w: invalid condition %q: %v", models.ErrValidation, expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", expression, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: condition %q did not produce a boolean", models.ErrValidation, expression)
	}
	return result, nil
}
