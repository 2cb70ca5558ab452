package types

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
//
// Per-point errors (ValidationError, and exhausted inference failures) are
// recorded on the MappingResult and never abort a batch. Task-fatal errors
// (ResourceExhaustedError, malformed request shape) abort the task before any
// batch work starts.

// TimeoutError indicates an inference call exceeded its budget.
// Retried, then falls back to the rule matcher.
type TimeoutError struct {
	Op     string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Op, e.Budget)
}

// InferenceServiceError is a non-timeout failure from the external inference
// service. Retried with backoff, then falls back.
type InferenceServiceError struct {
	Status  int
	Message string
}

func (e *InferenceServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("inference service error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("inference service error: %s", e.Message)
}

// MalformedResponseError indicates the inference response failed schema
// validation. Never retried: a structural mismatch will not fix itself.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed inference response: %s", e.Reason)
}

// ResourceExhaustedError rejects a task at acceptance time. Task-fatal.
type ResourceExhaustedError struct {
	Resource  string
	Limit     int
	Requested int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted: %s (requested %d, limit %d)", e.Resource, e.Requested, e.Limit)
}

// ValidationError indicates a point or cached record lacks required fields.
// Per-point errors do not fail the task.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// IsTransient reports whether err is worth retrying: timeouts and service
// errors are transient, malformed responses are not.
func IsTransient(err error) bool {
	var te *TimeoutError
	var se *InferenceServiceError
	return errors.As(err, &te) || errors.As(err, &se)
}
