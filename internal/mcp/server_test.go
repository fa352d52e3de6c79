package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agent-orchestrator/backend/pkg/models"
)

// MockExecutionService is a mock implementation of ExecutionService.
type MockExecutionService struct {
	mock.Mock
}

func (m *MockExecutionService) CreateExecution(ctx context.Context, workflowID string, inputs map[string]any) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, workflowID, inputs)
	exec, _ := args.Get(0).(*models.WorkflowExecution)
	return exec, args.Error(1)
}

func (m *MockExecutionService) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	exec, _ := args.Get(0).(*models.WorkflowExecution)
	return exec, args.Error(1)
}

func (m *MockExecutionService) ListExecutions(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, workflowID)
	execs, _ := args.Get(0).([]*models.WorkflowExecution)
	return execs, args.Error(1)
}

func (m *MockExecutionService) CancelExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	exec, _ := args.Get(0).(*models.WorkflowExecution)
	return exec, args.Error(1)
}

func (m *MockExecutionService) ResumeHumanReview(ctx context.Context, id, stepID, result string, approved bool) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id, stepID, result, approved)
	exec, _ := args.Get(0).(*models.WorkflowExecution)
	return exec, args.Error(1)
}

type listerFunc func(ctx context.Context) ([]*models.Workflow, error)

func (f listerFunc) List(ctx context.Context) ([]*models.Workflow, error) { return f(ctx) }

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func newTestServer(executions *MockExecutionService) *Server {
	return NewServer(executions, listerFunc(func(context.Context) ([]*models.Workflow, error) {
		return []*models.Workflow{{ID: "wf-1", Name: "triage"}}, nil
	}))
}

func TestStartWorkflow(t *testing.T) {
	executions := &MockExecutionService{}
	s := newTestServer(executions)
	executions.On("CreateExecution", mock.Anything, "wf-1", map[string]any{"ticket": "T-1"}).
		Return(&models.WorkflowExecution{ID: "exec-1", Status: models.StatusPending}, nil)

	res, err := s.handleStartWorkflow(context.Background(), callRequest("start_workflow", map[string]any{
		"workflow_id": "wf-1",
		"inputs":      map[string]any{"ticket": "T-1"},
	}))
	require.NoError(t, err)

	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"id":"exec-1"`)
	executions.AssertExpectations(t)
}

func TestStartWorkflowMissingID(t *testing.T) {
	s := newTestServer(&MockExecutionService{})

	res, err := s.handleStartWorkflow(context.Background(), callRequest("start_workflow", map[string]any{}))
	require.NoError(t, err)

	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "workflow_id")
}

func TestGetAndCancelExecution(t *testing.T) {
	executions := &MockExecutionService{}
	s := newTestServer(executions)
	executions.On("GetExecution", mock.Anything, "exec-1").
		Return(&models.WorkflowExecution{ID: "exec-1", Status: models.StatusRunning}, nil)
	executions.On("CancelExecution", mock.Anything, "exec-1").
		Return(nil, models.ErrConflict)

	res, err := s.handleGetExecution(context.Background(), callRequest("get_execution", map[string]any{"execution_id": "exec-1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"status":"RUNNING"`)

	res, err = s.handleCancelExecution(context.Background(), callRequest("cancel_execution", map[string]any{"execution_id": "exec-1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "conflict")
}

func TestResumeHumanReview(t *testing.T) {
	executions := &MockExecutionService{}
	s := newTestServer(executions)
	executions.On("ResumeHumanReview", mock.Anything, "exec-1", "step-1", "ok", true).
		Return(&models.WorkflowExecution{ID: "exec-1", Status: models.StatusCompleted}, nil)

	res, err := s.handleResumeHumanReview(context.Background(), callRequest("resume_human_review", map[string]any{
		"execution_id": "exec-1",
		"step_id":      "step-1",
		"approved":     true,
		"result":       "ok",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = s.handleResumeHumanReview(context.Background(), callRequest("resume_human_review", map[string]any{
		"execution_id": "exec-1",
		"step_id":      "step-1",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "approved")
}

func TestListTools(t *testing.T) {
	executions := &MockExecutionService{}
	s := newTestServer(executions)
	executions.On("ListExecutions", mock.Anything, "wf-1").
		Return([]*models.WorkflowExecution{{ID: "exec-1"}}, nil)

	res, err := s.handleListWorkflows(context.Background(), callRequest("list_workflows", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"name":"triage"`)

	res, err = s.handleListExecutions(context.Background(), callRequest("list_executions", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"id":"exec-1"`)
}
