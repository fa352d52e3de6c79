package models

import (
	"slices"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusPending         ExecutionStatus = "PENDING"
	StatusRunning         ExecutionStatus = "RUNNING"
	StatusCompleted       ExecutionStatus = "COMPLETED"
	StatusFailed          ExecutionStatus = "FAILED"
	StatusCancelled       ExecutionStatus = "CANCELLED"
	StatusWaitingForHuman ExecutionStatus = "WAITING_FOR_HUMAN"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusWaitingForHuman:
		return true
	}
	return false
}

var transitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending:         {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:         {StatusCompleted, StatusFailed, StatusCancelled, StatusWaitingForHuman},
	StatusWaitingForHuman: {StatusRunning, StatusCancelled},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WorkflowExecution is one run of a pinned workflow definition version.
type WorkflowExecution struct {
	ID              string            `json:"id"`
	WorkflowID      string            `json:"workflowId"`
	WorkflowName    string            `json:"workflowName"`
	WorkflowVersion int               `json:"workflowVersion"`
	Status          ExecutionStatus   `json:"status"`
	CurrentStepID   string            `json:"currentStepId,omitempty"`
	StepResults     map[string]string `json:"stepResults"`
	StepOrder       []string          `json:"stepOrder"`
	StepRetries     map[string]int    `json:"stepRetries,omitempty"`
	Metadata        map[string]string `json:"metadata"`
	StartTime       time.Time         `json:"startTime"`
	EndTime         *time.Time        `json:"endTime,omitempty"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
}

// Clone returns a deep copy so callers never share maps with a store.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	c := *e
	c.StepResults = cloneStrings(e.StepResults)
	c.StepOrder = slices.Clone(e.StepOrder)
	c.Metadata = cloneStrings(e.Metadata)
	if e.StepRetries != nil {
		c.StepRetries = make(map[string]int, len(e.StepRetries))
		for k, v := range e.StepRetries {
			c.StepRetries[k] = v
		}
	}
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	return &c
}

// RecordResult stores the result of a step. StepOrder lists each step once,
// in the order its first result was recorded.
func (e *WorkflowExecution) RecordResult(stepID, result string) {
	if e.StepResults == nil {
		e.StepResults = map[string]string{}
	}
	if _, seen := e.StepResults[stepID]; !seen {
		e.StepOrder = append(e.StepOrder, stepID)
	}
	e.StepResults[stepID] = result
}

// EnsureMaps initialises nil maps after decoding.
func (e *WorkflowExecution) EnsureMaps() {
	if e.StepResults == nil {
		e.StepResults = map[string]string{}
	}
	if e.StepRetries == nil {
		e.StepRetries = map[string]int{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	if e.StepOrder == nil {
		e.StepOrder = []string{}
	}
}
