// Package plan defines planner output: a Plan and its Task DAG, distinct
// from the Graph Executor's static node graph. The Dependency Scheduler
// (runtime/scheduler) and Parallel Executor (runtime/executor) operate on
// these types.
package plan

import "time"

// Status is a Plan's lifecycle status.
type Status string

const (
	PlanStatusActive Status = "active"
	PlanStatusDone   Status = "done"
)

// Plan is one planner-produced unit of work for a session.
type Plan struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`
	Goal      string `json:"goal" db:"goal"`
	Status    Status `json:"status" db:"status"`
}

// TaskStatus is a Task's lifecycle status, driven partly by the scheduler
// (pending/blocked) and partly by the executor (in_progress/retrying/...).
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusSkipped    TaskStatus = "skipped"
	TaskStatusRetrying   TaskStatus = "retrying"
	TaskStatusAborted    TaskStatus = "aborted"
	TaskStatusTimeout    TaskStatus = "timeout"
)

// terminalOrDone are the statuses the scheduler treats as satisfying a
// dependency (spec §4.5 ready-selection rule).
var terminalOrDone = map[TaskStatus]bool{
	TaskStatusDone:    true,
	TaskStatusSkipped: true,
}

// SatisfiesDependency reports whether status counts as "done" for the
// purpose of unblocking a dependent task.
func SatisfiesDependency(status TaskStatus) bool { return terminalOrDone[status] }

// Task is one node in a planner-produced task graph.
type Task struct {
	ID           string     `json:"id" db:"id"`
	PlanID       string     `json:"plan_id" db:"plan_id"`
	Title        string     `json:"title" db:"title"`
	Description  string     `json:"description" db:"description"`
	AgentType    string     `json:"agent_type" db:"agent_type"`
	Status       TaskStatus `json:"status" db:"status"`
	Progress     float64    `json:"progress" db:"progress"`
	DependsOn    []string   `json:"depends_on" db:"-"`
	CanParallel  bool       `json:"can_parallel" db:"can_parallel"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	Result       any        `json:"result,omitempty" db:"-"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
