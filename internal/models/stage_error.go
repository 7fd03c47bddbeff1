package models

import (
	"errors"
	"fmt"
)

// FailureKind is the closed failure taxonomy. Every stage translates its own
// errors into one of these before returning to the orchestrator; nothing else
// crosses a stage boundary.
type FailureKind string

const (
	// FailureDeferred: a dependency is not ready (media context still being
	// enriched). Re-driven later without consuming retry budget.
	FailureDeferred FailureKind = "deferred"

	// FailureTransient: timeout, rate limit, 5xx, store contention. Retried
	// with bounded backoff.
	FailureTransient FailureKind = "transient"

	// FailurePermanent: malformed input or unresolvable reference. Terminal,
	// no retry.
	FailurePermanent FailureKind = "permanent"

	// FailureConflict: a duplicate attempt lost an idempotency race. Treated
	// as success.
	FailureConflict FailureKind = "conflict"
)

// StageError carries a classified stage failure back to the orchestrator.
type StageError struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Deferred marks a not-ready dependency.
func Deferred(reason string) *StageError {
	return &StageError{Kind: FailureDeferred, Reason: reason}
}

// Transient marks a retryable failure.
func Transient(reason string, err error) *StageError {
	return &StageError{Kind: FailureTransient, Reason: reason, Err: err}
}

// Permanent marks a terminal failure.
func Permanent(reason string, err error) *StageError {
	return &StageError{Kind: FailurePermanent, Reason: reason, Err: err}
}

// Conflict marks a lost idempotency race, which callers treat as success.
func Conflict(reason string) *StageError {
	return &StageError{Kind: FailureConflict, Reason: reason}
}

// AsStageError extracts a StageError from an error chain. Unclassified errors
// are not stage errors; the orchestrator treats them as transient so a
// programming slip never silently drops a comment.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
