package models

import "errors"

// Error taxonomy shared by stores, the engine and the API layer. Callers wrap
// these with context and match them with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation error")
	ErrAgentInvocation = errors.New("agent invocation failed")
	ErrTransientStore  = errors.New("store temporarily unavailable")
)
