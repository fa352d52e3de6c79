package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"agent-orchestrator/backend/pkg/models"
)

// Metrics records engine activity as OpenTelemetry instruments.
type Metrics struct {
	executions metric.Int64Counter
	steps      metric.Int64Counter
	retries    metric.Int64Counter
	rejected   metric.Int64Counter
}

// NewMetrics registers the engine instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	executions, err := meter.Int64Counter("orchestrator.executions.finished",
		metric.WithDescription("Executions that reached a terminal status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create executions counter: %w", err)
	}
	steps, err := meter.Int64Counter("orchestrator.steps.dispatched",
		metric.WithDescription("Dispatched steps by type and outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create steps counter: %w", err)
	}
	retries, err := meter.Int64Counter("orchestrator.steps.retried",
		metric.WithDescription("Step attempts scheduled by the retry policy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}
	rejected, err := meter.Int64Counter("orchestrator.executions.rejected",
		metric.WithDescription("Executions rejected because the worker pool was saturated"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rejected counter: %w", err)
	}
	return &Metrics{executions: executions, steps: steps, retries: retries, rejected: rejected}, nil
}

// NopMetrics returns Metrics that record nothing.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func (m *Metrics) executionFinished(ctx context.Context, status models.ExecutionStatus) {
	m.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *Metrics) stepDispatched(ctx context.Context, stepType models.StepType, outcome OutcomeKind) {
	name := "result"
	switch outcome {
	case OutcomeSuspend:
		name = "suspend"
	case OutcomeFailure:
		name = "failure"
	}
	m.steps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step_type", string(stepType)),
		attribute.String("outcome", name)))
}

func (m *Metrics) stepRetried(ctx context.Context, stepType models.StepType) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("step_type", string(stepType))))
}

// ExecutionRejected counts an execution refused by a saturated pool.
func (m *Metrics) ExecutionRejected(ctx context.Context) {
	m.rejected.Add(ctx, 1)
}
