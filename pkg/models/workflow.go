// Package models defines the domain models for the orchestration service
package models

import (
	"fmt"
	"sort"
	"time"
)

// StepType identifies what a workflow step does when dispatched.
type StepType string

const (
	StepTypeAgentExecution StepType = "AGENT_EXECUTION"
	StepTypeCondition      StepType = "CONDITION"
	StepTypeHumanReview    StepType = "HUMAN_REVIEW"
	StepTypeWait           StepType = "WAIT"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeAgentExecution, StepTypeCondition, StepTypeHumanReview, StepTypeWait:
		return true
	}
	return false
}

// WorkflowStep is one unit of work within a workflow definition.
type WorkflowStep struct {
	ID                string   `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	Description       string   `json:"description,omitempty" yaml:"description,omitempty"`
	Sequence          int      `json:"sequence" yaml:"sequence"`
	Type              StepType `json:"type" yaml:"type"`
	AgentID           string   `json:"agentId,omitempty" yaml:"agentId,omitempty"`
	Prompt            string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Condition         string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	NextStepOnSuccess string   `json:"nextStepOnSuccess,omitempty" yaml:"nextStepOnSuccess,omitempty"`
	NextStepOnFailure string   `json:"nextStepOnFailure,omitempty" yaml:"nextStepOnFailure,omitempty"`
	Required          bool     `json:"required" yaml:"required"`
	MaxRetries        int      `json:"maxRetries" yaml:"maxRetries"`
	RetryDelayMs      int64    `json:"retryDelayMs" yaml:"retryDelayMs"`
	WaitDurationMs    int64    `json:"waitDurationMs,omitempty" yaml:"waitDurationMs,omitempty"`
}

// RetryDelay is the configured pause before a failed step is dispatched again.
func (s *WorkflowStep) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// WaitDuration is how long a WAIT step holds the execution.
func (s *WorkflowStep) WaitDuration() time.Duration {
	return time.Duration(s.WaitDurationMs) * time.Millisecond
}

// Workflow is a versioned workflow definition. ID is stable across versions;
// every update stores a new Version so running executions keep the steps they
// were started with.
type Workflow struct {
	ID          string            `json:"id" yaml:"id"`
	Version     int               `json:"version" yaml:"-"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string            `json:"type" yaml:"type"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Steps       []WorkflowStep    `json:"steps" yaml:"steps"`
	CreatedAt   time.Time         `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time         `json:"updatedAt" yaml:"-"`
}

// StepByID returns the step with the given id.
func (w *Workflow) StepByID(id string) (*WorkflowStep, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// StepBySequence returns the step at the given sequence position.
func (w *Workflow) StepBySequence(seq int) (*WorkflowStep, bool) {
	for i := range w.Steps {
		if w.Steps[i].Sequence == seq {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// EntryStep is the step an execution starts from (sequence 1).
func (w *Workflow) EntryStep() (*WorkflowStep, bool) {
	return w.StepBySequence(1)
}

// NextStepID resolves the step that follows current. On success an explicit
// edge wins over sequence ordering. On failure only the explicit failure edge
// is followed. It returns "" when the chain ends.
func (w *Workflow) NextStepID(current *WorkflowStep, success bool) string {
	if !success {
		return current.NextStepOnFailure
	}
	if current.NextStepOnSuccess != "" {
		return current.NextStepOnSuccess
	}
	if next, ok := w.StepBySequence(current.Sequence + 1); ok {
		return next.ID
	}
	return ""
}

// Validate checks the structural rules of a definition: a name, positive and
// unique sequences, unique step ids, known step types and resolvable edges.
// Step level configuration (agent id, condition) is checked at dispatch time.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: workflow name is required", ErrValidation)
	}
	ids := make(map[string]struct{}, len(w.Steps))
	seqs := make(map[int]string, len(w.Steps))
	for _, s := range w.Steps {
		if s.ID == "" {
			return fmt.Errorf("%w: step %q has no id", ErrValidation, s.Name)
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %s", ErrValidation, s.ID)
		}
		ids[s.ID] = struct{}{}
		if s.Sequence < 1 {
			return fmt.Errorf("%w: step %q has non-positive sequence %d", ErrValidation, s.Name, s.Sequence)
		}
		if other, dup := seqs[s.Sequence]; dup {
			return fmt.Errorf("%w: steps %q and %q share sequence %d", ErrValidation, other, s.Name, s.Sequence)
		}
		seqs[s.Sequence] = s.Name
		if !s.Type.Valid() {
			return fmt.Errorf("%w: step %q has unknown type %q", ErrValidation, s.Name, s.Type)
		}
		if s.MaxRetries < 0 || s.RetryDelayMs < 0 || s.WaitDurationMs < 0 {
			return fmt.Errorf("%w: step %q has negative retry or wait settings", ErrValidation, s.Name)
		}
	}
	for _, s := range w.Steps {
		for _, edge := range []string{s.NextStepOnSuccess, s.NextStepOnFailure} {
			if edge == "" {
				continue
			}
			if _, ok := ids[edge]; !ok {
				return fmt.Errorf("%w: step %q points to unknown step %s", ErrValidation, s.Name, edge)
			}
		}
	}
	return nil
}

// SortSteps orders steps by sequence in place.
func (w *Workflow) SortSteps() {
	sort.SliceStable(w.Steps, func(i, j int) bool {
		return w.Steps[i].Sequence < w.Steps[j].Sequence
	})
}

// Clone returns a deep copy of the definition.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.Steps = append([]WorkflowStep(nil), w.Steps...)
	c.Metadata = cloneStrings(w.Metadata)
	return &c
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
