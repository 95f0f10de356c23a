package models

import "fmt"

// ErrorKind classifies job-facing errors.
type ErrorKind string

// Error kinds, in rough order of where they occur: submission, lookup,
// agent loop, cancellation, infrastructure.
const (
	ErrorKindValidation  ErrorKind = "VALIDATION"
	ErrorKindQueueFull   ErrorKind = "QUEUE_FULL"
	ErrorKindNotFound    ErrorKind = "NOT_FOUND"
	ErrorKindInvalidTool ErrorKind = "INVALID_TOOL"
	ErrorKindLLM         ErrorKind = "LLM_ERROR"
	ErrorKindTool        ErrorKind = "TOOL_ERROR"
	ErrorKindCancelled   ErrorKind = "CANCELLED"
	ErrorKindPersistence ErrorKind = "PERSISTENCE_ERROR"
	ErrorKindListener    ErrorKind = "LISTENER_ERROR"
	ErrorKindInternal    ErrorKind = "INTERNAL"
)

// JobError is the typed error record attached to a FAILED job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewJobError creates a typed job error.
func NewJobError(kind ErrorKind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
