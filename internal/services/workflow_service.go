package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agent-orchestrator/backend/internal/events"
	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/internal/repository"
	"agent-orchestrator/backend/pkg/models"
)

// WorkflowService manages workflow definitions.
type WorkflowService struct {
	store     repository.WorkflowStore
	publisher events.Publisher
	logger    *logging.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(store repository.WorkflowStore, publisher events.Publisher, logger *logging.Logger) *WorkflowService {
	return &WorkflowService{store: store, publisher: publisher, logger: logger}
}

// Create stores a new workflow definition under a fresh id.
func (s *WorkflowService) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	workflow.ID = uuid.New().String()
	if err := s.prepare(ctx, workflow); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, workflow); err != nil {
		return nil, err
	}
	s.publish(ctx, models.EventCreated, workflow)
	s.logger.Info("workflow created", "workflow_id", workflow.ID, "name", workflow.Name)
	return workflow, nil
}

// Get returns the latest version of a workflow.
func (s *WorkflowService) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return s.store.Get(ctx, id)
}

// GetByName returns the latest version of the workflow called name.
func (s *WorkflowService) GetByName(ctx context.Context, name string) (*models.Workflow, error) {
	return s.store.FindByName(ctx, name)
}

// List returns every live workflow.
func (s *WorkflowService) List(ctx context.Context) ([]*models.Workflow, error) {
	return s.store.List(ctx)
}

// ListByType returns the live workflows of the given type.
func (s *WorkflowService) ListByType(ctx context.Context, workflowType string) ([]*models.Workflow, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Workflow, 0, len(all))
	for _, wf := range all {
		if wf.Type == workflowType {
			out = append(out, wf)
		}
	}
	return out, nil
}

// Update stores workflow as the next version of id. Executions already
// started keep the version they were created with.
func (s *WorkflowService) Update(ctx context.Context, id string, workflow *models.Workflow) (*models.Workflow, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	workflow.ID = id
	if err := s.prepare(ctx, workflow); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, workflow); err != nil {
		return nil, err
	}
	s.publish(ctx, models.EventUpdated, workflow)
	s.logger.Info("workflow updated", "workflow_id", id, "version", workflow.Version)
	return workflow, nil
}

// Delete removes a workflow from listings. Stored versions remain readable
// by the executions pinned to them.
func (s *WorkflowService) Delete(ctx context.Context, id string) error {
	workflow, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, models.EventDeleted, workflow)
	s.logger.Info("workflow deleted", "workflow_id", id)
	return nil
}

// prepare assigns step ids, orders steps and checks the definition, including
// that its name is not taken by another workflow.
func (s *WorkflowService) prepare(ctx context.Context, workflow *models.Workflow) error {
	for i := range workflow.Steps {
		if workflow.Steps[i].ID == "" {
			workflow.Steps[i].ID = uuid.New().String()
		}
	}
	workflow.SortSteps()
	if err := workflow.Validate(); err != nil {
		return err
	}

	existing, err := s.store.FindByName(ctx, workflow.Name)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != workflow.ID:
		return fmt.Errorf("workflow with name %q already exists: %w", workflow.Name, models.ErrConflict)
	}
	return nil
}

func (s *WorkflowService) publish(ctx context.Context, t models.WorkflowEventType, workflow *models.Workflow) {
	s.publisher.Publish(ctx, models.WorkflowEvent{
		Type:         t,
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		Timestamp:    time.Now().UTC(),
	})
}
