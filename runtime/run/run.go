// Package run defines the durable unit of orchestrator work: its state
// machine, persistence contract, and the idempotency/cancellation bookkeeping
// the Orchestrator and Graph Executor depend on.
package run

import (
	"context"
	"encoding/json"
	"time"
)

// Status is a Run's position in the lifecycle state machine.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// terminal holds the statuses that admit no further transitions.
var terminal = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// IsTerminal reports whether s is a terminal status.
func IsTerminal(s Status) bool { return terminal[s] }

// transitions enumerates the edges drawn in the data model's state diagram.
var transitions = map[Status]map[Status]bool{
	StatusQueued:       {StatusRunning: true, StatusCancelled: true},
	StatusRunning:      {StatusWaitingInput: true, StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusWaitingInput: {StatusRunning: true, StatusCancelled: true},
}

// CanTransition reports whether from→to is a legal edge. Terminal states and
// a no-op self-transition are always rejected; callers that want the
// "cancel on terminal is a no-op" behavior check IsTerminal first.
func CanTransition(from, to Status) bool {
	if terminal[from] {
		return false
	}
	return transitions[from][to]
}

// Run is one unit of orchestrator work bound to a single user request and
// checkpoint thread.
type Run struct {
	ID               string          `json:"id" db:"id"`
	SessionID        string          `json:"session_id" db:"session_id"`
	ParentRunID      string          `json:"parent_run_id,omitempty" db:"parent_run_id"`
	TriggerSource    string          `json:"trigger_source" db:"trigger_source"`
	Status           Status          `json:"status" db:"status"`
	InputMessage     string          `json:"input_message" db:"input_message"`
	ResumePayload    json.RawMessage `json:"resume_payload,omitempty" db:"resume_payload"`
	CheckpointThread string          `json:"checkpoint_thread" db:"checkpoint_thread"`
	CheckpointNS     string          `json:"checkpoint_ns" db:"checkpoint_ns"`
	LatestError      json.RawMessage `json:"latest_error,omitempty" db:"latest_error"`
	Metrics          json.RawMessage `json:"metrics" db:"metrics"`
	StartedAt        *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// CheckpointThreadID is the default "{session_id}:{run_id}" thread binding
// used whenever a caller doesn't supply one explicitly.
func CheckpointThreadID(sessionID, runID string) string {
	return sessionID + ":" + runID
}

// New is the input to Create: everything the caller supplies up front.
type New struct {
	SessionID     string
	ParentRunID   string
	TriggerSource string
	InputMessage  string
	CheckpointNS  string
}

// PersistFields carries the optional fields PersistState may update
// alongside a status transition. Nil pointers/empty values leave the
// corresponding column untouched.
type PersistFields struct {
	LatestError json.RawMessage
	Metrics     json.RawMessage
}

// CancelOutcome reports what Cancel actually did, so the HTTP layer can pick
// the 200-vs-202 status code the contract specifies.
type CancelOutcome struct {
	Run             Run
	AlreadyTerminal bool
}

// Store persists Run records, enforces the state machine, and caches
// idempotent responses for Create/Resume.
//
// Contract:
//   - PersistState rejects any transition outside CanTransition with a
//     state_conflict apperr.Error.
//   - StartedAt is set on first entry to running; FinishedAt on first entry
//     to any terminal status. Both are sticky: later calls never overwrite
//     an already-set timestamp.
//   - Cancel on a terminal run is a no-op returning the current state with
//     AlreadyTerminal=true; on a non-terminal run it transitions to
//     cancelled and reports AlreadyTerminal=false.
type Store interface {
	Create(ctx context.Context, in New, idempotencyKey string) (Run, error)
	Get(ctx context.Context, id string) (Run, error)
	ListBySession(ctx context.Context, sessionID string) ([]Run, error)
	GetLatestWaiting(ctx context.Context, sessionID string) (Run, error)
	Start(ctx context.Context, id string) (Run, error)
	Resume(ctx context.Context, sessionID, runID string, payload json.RawMessage, idempotencyKey string) (Run, error)
	Cancel(ctx context.Context, id string) (CancelOutcome, error)
	PersistState(ctx context.Context, id string, status Status, fields PersistFields) (Run, error)
	ListStale(ctx context.Context, status Status, olderThan time.Duration) ([]Run, error)
}
