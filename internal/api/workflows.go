package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agent-orchestrator/backend/internal/events"
	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Workflows  WorkflowService
	Executions ExecutionService
	Broker     *events.Broker
	logger     *logging.Logger
}

// NewServer creates a new Server. broker may be nil, in which case the
// execution event stream is not served.
func NewServer(workflows WorkflowService, executions ExecutionService, broker *events.Broker, logger *logging.Logger) *Server {
	return &Server{Workflows: workflows, Executions: executions, Broker: broker, logger: logger}
}

// RegisterHandlers mounts the REST API on g, which is expected to be the
// /api/v1 group.
func (s *Server) RegisterHandlers(g *echo.Group) {
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/type/:type", s.ListWorkflowsByType)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.PUT("/workflows/:id", s.UpdateWorkflow)
	g.DELETE("/workflows/:id", s.DeleteWorkflow)
	g.POST("/workflows/:id/execute", s.ExecuteWorkflow)
	g.GET("/workflows/:id/executions", s.ListExecutions)

	g.GET("/executions/:id", s.GetExecution)
	g.POST("/executions/:id/cancel", s.CancelExecution)
	g.POST("/executions/:id/steps/:stepId/human-review", s.CompleteHumanReview)
	if s.Broker != nil {
		g.GET("/executions/:id/events", s.StreamExecutionEvents)
	}
}

// CreateWorkflow stores a new workflow definition
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var workflow models.Workflow
	if err := c.Bind(&workflow); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	created, err := s.Workflows.Create(c.Request().Context(), &workflow)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListWorkflows returns a list of all workflows
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.Workflows.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// ListWorkflowsByType returns the workflows of one type
// (GET /api/v1/workflows/type/:type)
func (s *Server) ListWorkflowsByType(c echo.Context) error {
	workflows, err := s.Workflows.ListByType(c.Request().Context(), c.Param("type"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetWorkflow returns the latest version of a workflow
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	workflow, err := s.Workflows.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, workflow)
}

// UpdateWorkflow stores a new version of a workflow
// (PUT /api/v1/workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	var workflow models.Workflow
	if err := c.Bind(&workflow); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	updated, err := s.Workflows.Update(c.Request().Context(), c.Param("id"), &workflow)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteWorkflow removes a workflow
// (DELETE /api/v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.Workflows.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
