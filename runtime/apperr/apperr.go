// Package apperr defines the behavioral error taxonomy shared across the
// orchestrator core. Errors are not a type hierarchy; callers distinguish
// categories with errors.Is/errors.As against the sentinels and wrapper
// types defined here, matching the flat errors.New + fmt.Errorf("%w", ...)
// idiom used throughout the example pack rather than a custom exception tree.
package apperr

import (
	"errors"
	"fmt"
)

// Category classifies an error for the purposes of HTTP status mapping,
// retry policy, and event payloads.
type Category string

const (
	// CategoryValidation covers bad input the caller must fix; never retried.
	CategoryValidation Category = "validation"
	// CategoryStateConflict covers invalid state transitions (run/doc status,
	// resume when not waiting, pinned-limit exceeded, duplicate snapshot
	// number after retries).
	CategoryStateConflict Category = "state_conflict"
	// CategoryTemporary covers rate-limit, transport, and upstream 5xx errors
	// eligible for task-level exponential retry.
	CategoryTemporary Category = "temporary"
	// CategoryTimeout covers per-task wait or sweep-detected stalls.
	CategoryTimeout Category = "timeout"
	// CategoryAborted covers cooperative cancellation.
	CategoryAborted Category = "aborted"
	// CategoryFatal covers anything else. New and Wrap leave TraceID empty;
	// a trace id is attached only through WithTrace.
	CategoryFatal Category = "fatal"
)

// Error wraps an underlying error with a category, human message, and trace
// id so it can be recorded on a task/run and included in emitted events.
type Error struct {
	Category Category
	Message  string
	TraceID  string
	Err      error
	// Details carries category-specific structured payload (e.g. current
	// pinned ids for a pinned-limit-exceeded conflict).
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given category.
func New(cat Category, message string) *Error {
	return &Error{Category: cat, Message: message}
}

// Wrap builds an Error of the given category wrapping err.
func Wrap(cat Category, message string, err error) *Error {
	return &Error{Category: cat, Message: message, Err: err}
}

// WithTrace attaches a trace id and returns the same error for chaining.
func (e *Error) WithTrace(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// WithDetails attaches structured details and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Is reports whether err belongs to the given category.
func Is(err error, cat Category) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category == cat
	}
	return false
}

// CategoryOf returns the category of err, or CategoryFatal if err is not an
// *Error.
func CategoryOf(err error) Category {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	return CategoryFatal
}
