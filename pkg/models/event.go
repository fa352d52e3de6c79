package models

import "time"

// WorkflowEventType names a definition or execution transition.
type WorkflowEventType string

const (
	EventCreated              WorkflowEventType = "CREATED"
	EventUpdated              WorkflowEventType = "UPDATED"
	EventDeleted              WorkflowEventType = "DELETED"
	EventExecutionStarted     WorkflowEventType = "EXECUTION_STARTED"
	EventExecutionCompleted   WorkflowEventType = "EXECUTION_COMPLETED"
	EventExecutionFailed      WorkflowEventType = "EXECUTION_FAILED"
	EventExecutionCancelled   WorkflowEventType = "EXECUTION_CANCELLED"
	EventStepStarted          WorkflowEventType = "STEP_STARTED"
	EventStepCompleted        WorkflowEventType = "STEP_COMPLETED"
	EventStepFailed           WorkflowEventType = "STEP_FAILED"
	EventHumanReviewRequested WorkflowEventType = "HUMAN_REVIEW_REQUESTED"
	EventHumanReviewCompleted WorkflowEventType = "HUMAN_REVIEW_COMPLETED"
)

// WorkflowEvent is published once per applied transition.
type WorkflowEvent struct {
	Type         WorkflowEventType `json:"type"`
	WorkflowID   string            `json:"workflowId"`
	WorkflowName string            `json:"workflowName"`
	ExecutionID  string            `json:"executionId,omitempty"`
	Status       ExecutionStatus   `json:"status,omitempty"`
	StepID       string            `json:"stepId,omitempty"`
	StepName     string            `json:"stepName,omitempty"`
	Message      string            `json:"message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}
