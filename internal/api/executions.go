package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"agent-orchestrator/backend/internal/events"
	"agent-orchestrator/backend/pkg/models"
)

// HumanReviewRequest is the JSON form of a review decision body. A plain text
// body is taken as the result as is.
type HumanReviewRequest struct {
	Result string `json:"result"`
}

// ExecuteWorkflow queues an execution of the latest workflow version
// (POST /api/v1/workflows/:id/execute)
func (s *Server) ExecuteWorkflow(c echo.Context) error {
	inputs := map[string]any{}
	if err := json.NewDecoder(c.Request().Body).Decode(&inputs); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	exec, err := s.Executions.CreateExecution(c.Request().Context(), c.Param("id"), inputs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, exec)
}

// ListExecutions returns the executions of a workflow
// (GET /api/v1/workflows/:id/executions)
func (s *Server) ListExecutions(c echo.Context) error {
	execs, err := s.Executions.ListExecutions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, execs)
}

// GetExecution returns one execution
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	exec, err := s.Executions.GetExecution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, exec)
}

// CancelExecution cancels a running or waiting execution
// (POST /api/v1/executions/:id/cancel)
func (s *Server) CancelExecution(c echo.Context) error {
	exec, err := s.Executions.CancelExecution(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, exec)
}

// CompleteHumanReview records a reviewer's decision
// (POST /api/v1/executions/:id/steps/:stepId/human-review?approved=bool)
func (s *Server) CompleteHumanReview(c echo.Context) error {
	approved, err := strconv.ParseBool(c.QueryParam("approved"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Query parameter approved must be true or false")
	}
	result, err := reviewResult(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	exec, err := s.Executions.ResumeHumanReview(c.Request().Context(), c.Param("id"), c.Param("stepId"), result, approved)
	if err != nil {
		return httpError(err)
	}
	s.logger.Info("human review completed", "execution_id", exec.ID, "step_id", c.Param("stepId"), "approved", approved)
	return c.JSON(http.StatusAccepted, exec)
}

func reviewResult(c echo.Context) (string, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var req HumanReviewRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", err
		}
		return req.Result, nil
	}
	return string(body), nil
}

// StreamExecutionEvents streams the events of one execution as
// server-sent events until it terminates or the client disconnects
// (GET /api/v1/executions/:id/events)
func (s *Server) StreamExecutionEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	// Subscribe before reading the status so a terminal event published in
	// between is not missed.
	ch, unsubscribe := s.Broker.Subscribe(64, events.ForExecution(id))
	defer unsubscribe()

	exec, err := s.Executions.GetExecution(ctx, id)
	if err != nil {
		return httpError(err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	if exec.Status.IsTerminal() {
		return writeEvent(w, finalEvent(exec))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeEvent(w, event); err != nil {
				return err
			}
			if event.Status.IsTerminal() {
				return nil
			}
		}
	}
}

func writeEvent(w *echo.Response, event models.WorkflowEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		// Client went away.
		return nil
	}
	w.Flush()
	return nil
}

// finalEvent describes an execution that finished before the stream opened.
func finalEvent(exec *models.WorkflowExecution) models.WorkflowEvent {
	event := models.WorkflowEvent{
		Type:         models.EventExecutionCompleted,
		WorkflowID:   exec.WorkflowID,
		WorkflowName: exec.WorkflowName,
		ExecutionID:  exec.ID,
		Status:       exec.Status,
		Message:      exec.ErrorMessage,
	}
	switch exec.Status {
	case models.StatusFailed:
		event.Type = models.EventExecutionFailed
	case models.StatusCancelled:
		event.Type = models.EventExecutionCancelled
	}
	if exec.EndTime != nil {
		event.Timestamp = *exec.EndTime
	}
	return event
}
