package queue

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the manager and worker layers.
var (
	// ErrJobNotFound means no tracked job carries the given ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueFull means the tracked-job ceiling was reached at submission.
	ErrQueueFull = errors.New("queue full")

	// ErrNoJobsAvailable means the pending queue is empty.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity means the running-job limit is reached.
	ErrAtCapacity = errors.New("at max concurrent jobs")
)

// ValidationError rejects a submission field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a submission validation error.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a submission validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
