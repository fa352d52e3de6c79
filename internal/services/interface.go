package services

import (
	"context"

	"agent-orchestrator/backend/internal/engine"
)

// Engine is the part of the workflow engine the services drive.
type Engine interface {
	// Start moves a PENDING execution to RUNNING and drives it.
	Start(ctx context.Context, executionID string) error
	// Continue picks up an execution left PENDING or RUNNING by a previous process.
	Continue(ctx context.Context, executionID string) error
	// Cancel moves a non-terminal execution to CANCELLED.
	Cancel(ctx context.Context, executionID string) error
	// Fail moves a non-terminal execution to FAILED.
	Fail(ctx context.Context, executionID, message string) error
	// ResumeHumanReview records a review decision and continues the execution.
	ResumeHumanReview(ctx context.Context, executionID, stepID, result string, approved bool) error
}

// Submitter queues work for background execution.
type Submitter interface {
	Submit(task engine.Task) error
}
