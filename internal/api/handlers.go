// Package api contains the HTTP handlers for the orchestration service
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"agent-orchestrator/backend/internal/engine"
	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/pkg/models"
)

// WorkflowService is the workflow definition API the handlers need.
type WorkflowService interface {
	Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error)
	Get(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context) ([]*models.Workflow, error)
	ListByType(ctx context.Context, workflowType string) ([]*models.Workflow, error)
	Update(ctx context.Context, id string, workflow *models.Workflow) (*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionService is the execution API the handlers need.
type ExecutionService interface {
	CreateExecution(ctx context.Context, workflowID string, inputs map[string]any) (*models.WorkflowExecution, error)
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListExecutions(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	CancelExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ResumeHumanReview(ctx context.Context, id, stepID, result string, approved bool) (*models.WorkflowExecution, error)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "agent-orchestrator",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// httpError maps the domain error taxonomy onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrPoolSaturated), errors.Is(err, engine.ErrPoolClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
}

// ErrorHandler writes every error as an RFC 7807 Problem Details response.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			he = httpError(err)
		}
		detail, ok := he.Message.(string)
		if !ok {
			detail = http.StatusText(he.Code)
		}
		if he.Code >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		}

		problem := ProblemDetails{
			Type:     "about:blank",
			Title:    http.StatusText(he.Code),
			Status:   he.Code,
			Detail:   detail,
			Instance: c.Request().URL.Path,
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		if err := c.JSON(he.Code, problem); err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}
