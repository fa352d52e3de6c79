package repository

import (
	"context"

	"agent-orchestrator/backend/pkg/models"
)

// WorkflowStore persists versioned workflow definitions. Get, FindByName and
// List only see the latest version of definitions that have not been deleted;
// GetVersion sees every version ever stored so pinned executions can still
// load their steps.
type WorkflowStore interface {
	// Get retrieves the latest version of a workflow by its ID.
	Get(ctx context.Context, id string) (*models.Workflow, error)
	// GetVersion retrieves a specific version of a workflow.
	GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error)
	// FindByName retrieves the latest version of the workflow with the given name.
	FindByName(ctx context.Context, name string) (*models.Workflow, error)
	// List returns the latest version of every live workflow.
	List(ctx context.Context) ([]*models.Workflow, error)
	// Save stores a new version of the workflow and sets workflow.Version.
	Save(ctx context.Context, workflow *models.Workflow) error
	// Delete hides a workflow from Get, FindByName and List.
	Delete(ctx context.Context, id string) error
}

// ExecutionStore persists workflow executions.
type ExecutionStore interface {
	// Get retrieves an execution by its ID.
	Get(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// Save upserts an execution. Saving a terminal execution with a different
	// status fails with models.ErrConflict.
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	// ListByWorkflow returns the executions of one workflow, oldest first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	// ListByStatus returns the executions currently in status, oldest first.
	ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.WorkflowExecution, error)
}
