package types

import "fmt"

// InvalidTransitionError is returned when a lifecycle operation is
// requested from a state that does not permit it.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// ValidationError is returned for malformed input before any write is
// performed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ExecutionConflictError is returned when a session is already being
// executed by a concurrent caller.
type ExecutionConflictError struct {
	SessionID string
}

func (e *ExecutionConflictError) Error() string {
	return fmt.Sprintf("session %s is already being executed", e.SessionID)
}

// OrchestrationError is a batch-level failure outside the per-pledge loop,
// e.g. fetching the pledge set or the final status update. The session is
// rolled back to a re-executable state before this is returned.
type OrchestrationError struct {
	SessionID string
	Stage     string
	Err       error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestration failed for session %s at %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}
