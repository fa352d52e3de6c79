package mcp

import (
	"context"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"agent-orchestrator/backend/pkg/models"
)

// ExecutionService is the execution API exposed as MCP tools.
type ExecutionService interface {
	CreateExecution(ctx context.Context, workflowID string, inputs map[string]any) (*models.WorkflowExecution, error)
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListExecutions(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	CancelExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ResumeHumanReview(ctx context.Context, id, stepID, result string, approved bool) (*models.WorkflowExecution, error)
}

// WorkflowLister lets agents discover which workflows they can start.
type WorkflowLister interface {
	List(ctx context.Context) ([]*models.Workflow, error)
}

type Server struct {
	mcpServer  *server.MCPServer
	executions ExecutionService
	workflows  WorkflowLister
}

func NewServer(executions ExecutionService, workflows WorkflowLister) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Agent Orchestrator",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		executions: executions,
		workflows:  workflows,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the workflow definitions that can be started"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_workflow",
			mcp.WithDescription("Start an execution of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow to run")),
			mcp.WithObject("inputs", mcp.Description("Inputs stored as execution metadata")),
		),
		s.handleStartWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_execution",
			mcp.WithDescription("Get the current state of an execution"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution")),
		),
		s.handleGetExecution,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_executions",
			mcp.WithDescription("List the executions of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleListExecutions,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_execution",
			mcp.WithDescription("Cancel a running or waiting execution"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution")),
		),
		s.handleCancelExecution,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"resume_human_review",
			mcp.WithDescription("Record a human review decision and continue the execution"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution")),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The ID of the review step")),
			mcp.WithBoolean("approved", mcp.Required(), mcp.Description("Whether the reviewer approved")),
			mcp.WithString("result", mcp.Description("The reviewer's result text")),
		),
		s.handleResumeHumanReview,
	)
}

func (s *Server) handleListWorkflows(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflows, err := s.workflows.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}
	return jsonResult(workflows)
}

func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	inputs, _ := args["inputs"].(map[string]interface{})

	exec, err := s.executions.CreateExecution(ctx, workflowID, inputs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start workflow: %v", err)), nil
	}
	return jsonResult(exec)
}

func (s *Server) handleGetExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requiredString(request, "execution_id")
	if errResult != nil {
		return errResult, nil
	}

	exec, err := s.executions.GetExecution(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get execution: %v", err)), nil
	}
	return jsonResult(exec)
}

func (s *Server) handleListExecutions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, errResult := requiredString(request, "workflow_id")
	if errResult != nil {
		return errResult, nil
	}

	execs, err := s.executions.ListExecutions(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list executions: %v", err)), nil
	}
	return jsonResult(execs)
}

func (s *Server) handleCancelExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := requiredString(request, "execution_id")
	if errResult != nil {
		return errResult, nil
	}

	exec, err := s.executions.CancelExecution(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel execution: %v", err)), nil
	}
	return jsonResult(exec)
}

func (s *Server) handleResumeHumanReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["execution_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: execution_id"), nil
	}
	stepID, ok := args["step_id"].(string)
	if !ok || stepID == "" {
		return mcp.NewToolResultError("Missing required parameter: step_id"), nil
	}
	approved, ok := args["approved"].(bool)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: approved"), nil
	}
	result, _ := args["result"].(string)

	exec, err := s.executions.ResumeHumanReview(ctx, id, stepID, result, approved)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resume human review: %v", err)), nil
	}
	return jsonResult(exec)
}

func requiredString(request mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", mcp.NewToolResultError("Invalid arguments type")
	}
	value, ok := args[name].(string)
	if !ok || value == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + name)
	}
	return value, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
