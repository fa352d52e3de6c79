package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agent-orchestrator/backend/pkg/models"
)

// MemoryWorkflowStore is an in-process WorkflowStore used for tests and the
// "memory" store driver.
type MemoryWorkflowStore struct {
	mu       sync.RWMutex
	versions map[string][]*models.Workflow
	deleted  map[string]bool
}

// NewMemoryWorkflowStore creates an empty MemoryWorkflowStore.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{
		versions: make(map[string][]*models.Workflow),
		deleted:  make(map[string]bool),
	}
}

func (s *MemoryWorkflowStore) latest(id string) (*models.Workflow, bool) {
	vs := s.versions[id]
	if len(vs) == 0 || s.deleted[id] {
		return nil, false
	}
	return vs[len(vs)-1], true
}

// Get retrieves the latest version of a workflow by its ID.
func (s *MemoryWorkflowStore) Get(_ context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.latest(id)
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, models.ErrNotFound)
	}
	return wf.Clone(), nil
}

// GetVersion retrieves a specific version of a workflow.
func (s *MemoryWorkflowStore) GetVersion(_ context.Context, id string, version int) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, wf := range s.versions[id] {
		if wf.Version == version {
			return wf.Clone(), nil
		}
	}
	return nil, fmt.Errorf("workflow %s version %d: %w", id, version, models.ErrNotFound)
}

// FindByName retrieves the latest version of the workflow with the given name.
func (s *MemoryWorkflowStore) FindByName(_ context.Context, name string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.versions {
		if wf, ok := s.latest(id); ok && wf.Name == name {
			return wf.Clone(), nil
		}
	}
	return nil, fmt.Errorf("workflow named %q: %w", name, models.ErrNotFound)
}

// List returns the latest version of every live workflow, ordered by name.
func (s *MemoryWorkflowStore) List(_ context.Context) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Workflow, 0, len(s.versions))
	for id := range s.versions {
		if wf, ok := s.latest(id); ok {
			out = append(out, wf.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save stores a new version of the workflow.
func (s *MemoryWorkflowStore) Save(_ context.Context, workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.versions {
		if id == workflow.ID {
			continue
		}
		if other, ok := s.latest(id); ok && other.Name == workflow.Name {
			return fmt.Errorf("workflow named %q already exists: %w", workflow.Name, models.ErrConflict)
		}
	}

	now := time.Now().UTC()
	stored := workflow.Clone()
	stored.Version = 1
	stored.CreatedAt = now
	if prev := s.versions[workflow.ID]; len(prev) > 0 {
		stored.Version = prev[len(prev)-1].Version + 1
		stored.CreatedAt = prev[0].CreatedAt
	}
	stored.UpdatedAt = now
	s.versions[workflow.ID] = append(s.versions[workflow.ID], stored)
	delete(s.deleted, workflow.ID)

	workflow.Version = stored.Version
	workflow.CreatedAt = stored.CreatedAt
	workflow.UpdatedAt = stored.UpdatedAt
	return nil
}

// Delete hides a workflow; stored versions stay readable through GetVersion.
func (s *MemoryWorkflowStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.latest(id); !ok {
		return fmt.Errorf("workflow %s: %w", id, models.ErrNotFound)
	}
	s.deleted[id] = true
	return nil
}

// MemoryExecutionStore is an in-process ExecutionStore.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*models.WorkflowExecution
}

// NewMemoryExecutionStore creates an empty MemoryExecutionStore.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: make(map[string]*models.WorkflowExecution)}
}

// Get retrieves an execution by its ID.
func (s *MemoryExecutionStore) Get(_ context.Context, id string) (*models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, models.ErrNotFound)
	}
	return exec.Clone(), nil
}

// Save upserts an execution.
func (s *MemoryExecutionStore) Save(_ context.Context, execution *models.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.executions[execution.ID]; ok {
		if err := checkTerminal(current, execution); err != nil {
			return err
		}
		if current.EndTime != nil {
			execution.EndTime = current.EndTime
		}
	}
	s.executions[execution.ID] = execution.Clone()
	return nil
}

// ListByWorkflow returns the executions of one workflow, oldest first.
func (s *MemoryExecutionStore) ListByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return s.filter(func(e *models.WorkflowExecution) bool { return e.WorkflowID == workflowID }), nil
}

// ListByStatus returns the executions in status, oldest first.
func (s *MemoryExecutionStore) ListByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.WorkflowExecution, error) {
	return s.filter(func(e *models.WorkflowExecution) bool { return e.Status == status }), nil
}

func (s *MemoryExecutionStore) filter(keep func(*models.WorkflowExecution) bool) []*models.WorkflowExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WorkflowExecution, 0)
	for _, e := range s.executions {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// checkTerminal rejects a save that would move a terminal record to another
// status.
func checkTerminal(current, next *models.WorkflowExecution) error {
	if current.Status.IsTerminal() && next.Status != current.Status {
		return fmt.Errorf("execution %s is %s, cannot save as %s: %w",
			current.ID, current.Status, next.Status, models.ErrConflict)
	}
	return nil
}
