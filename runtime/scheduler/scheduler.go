// Package scheduler implements the Dependency Scheduler: pure graph
// bookkeeping over a planner-produced Task DAG. It tracks readiness and
// blocking; the Parallel Executor (runtime/executor) owns the concurrency
// loop that actually runs tasks, grounded on the same Kahn's-algorithm
// adjacency/in-degree structure.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/siteforge-ai/core/runtime/apperr"
	"github.com/siteforge-ai/core/runtime/plan"
)

// ErrCycle is returned by New when the task set contains a dependency cycle.
var ErrCycle = apperr.New(apperr.CategoryValidation, "task graph contains a cycle")

// Scheduler tracks one plan's task DAG: forward/reverse adjacency, readiness,
// and the single-exclusive-slot rule for can_parallel=false tasks.
type Scheduler struct {
	mu sync.Mutex

	tasks     map[string]*plan.Task
	order     []string            // original task order, for FIFO ready selection
	forward   map[string][]string // task -> tasks that depend on it
	remaining map[string]int      // task -> count of not-yet-satisfied dependencies

	exclusiveRunning bool // a can_parallel=false task is currently executing
}

// New builds a Scheduler over tasks, validating the dependency graph is
// acyclic via DFS back-edge detection.
func New(tasks []plan.Task) (*Scheduler, error) {
	s := &Scheduler{
		tasks:     make(map[string]*plan.Task, len(tasks)),
		forward:   make(map[string][]string),
		remaining: make(map[string]int, len(tasks)),
	}
	for i := range tasks {
		t := tasks[i]
		s.tasks[t.ID] = &t
		s.order = append(s.order, t.ID)
	}
	for _, t := range tasks {
		s.remaining[t.ID] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			if _, ok := s.tasks[dep]; !ok {
				return nil, apperr.New(apperr.CategoryValidation, fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep))
			}
			s.forward[dep] = append(s.forward[dep], t.ID)
		}
	}
	if s.hasCycle() {
		return nil, ErrCycle
	}
	// A task with unmet dependencies starts blocked regardless of the status
	// the caller passed in; MarkCompleted/MarkSkipped promote it to pending
	// once every dependency resolves.
	for id, t := range s.tasks {
		if t.Status == plan.TaskStatusPending && s.remaining[id] > 0 {
			t.Status = plan.TaskStatusBlocked
		}
	}
	return s, nil
}

func (s *Scheduler) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(s.order))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range s.forward[id] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, id := range s.order {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// GetReadyTasks returns up to n tasks with status=pending whose every
// dependency is done|skipped. A can_parallel=false task is only returned
// while no task is currently executing, and while one is executing no task
// is returned at all; callers must call MarkRunning (or equivalent
// bookkeeping) before the task actually starts so subsequent calls
// correctly exclude further starts.
func (s *Scheduler) GetReadyTasks(n int) []plan.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exclusiveRunning {
		return nil
	}
	executing := false
	for _, t := range s.tasks {
		if t.Status == plan.TaskStatusInProgress {
			executing = true
			break
		}
	}

	var ready []plan.Task
	for _, id := range s.order {
		if len(ready) >= n {
			break
		}
		t := s.tasks[id]
		if t.Status != plan.TaskStatusPending || s.remaining[id] > 0 {
			continue
		}
		if !t.CanParallel && executing {
			continue
		}
		if !t.CanParallel && len(ready) > 0 {
			// Don't hand out an exclusive task alongside others in the same batch.
			break
		}
		ready = append(ready, *t)
		if !t.CanParallel {
			break
		}
	}
	return ready
}

// MarkRunning records that a task returned by GetReadyTasks has started,
// claiming the exclusive slot if the task is not parallelizable.
func (s *Scheduler) MarkRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.Status = plan.TaskStatusInProgress
	if !t.CanParallel {
		s.exclusiveRunning = true
	}
}

// MarkCompleted sets id done and unblocks any dependent whose remaining
// dependencies are now all satisfied.
func (s *Scheduler) MarkCompleted(id string) []string {
	return s.markDone(id, plan.TaskStatusDone)
}

// MarkSkipped is symmetric to MarkCompleted.
func (s *Scheduler) MarkSkipped(id string) []string {
	return s.markDone(id, plan.TaskStatusSkipped)
}

func (s *Scheduler) markDone(id string, status plan.TaskStatus) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	s.releaseExclusive(t)
	t.Status = status

	var unblocked []string
	for _, dep := range s.forward[id] {
		s.remaining[dep]--
		next := s.tasks[dep]
		if next.Status == plan.TaskStatusBlocked && s.remaining[dep] <= 0 {
			next.Status = plan.TaskStatusPending
			unblocked = append(unblocked, dep)
		}
	}
	return unblocked
}

// MarkFailed sets id's terminal status to failed and blocks every pending
// dependent, returning their ids for event emission.
func (s *Scheduler) MarkFailed(id string) []string {
	return s.markTerminalFailure(id, plan.TaskStatusFailed)
}

// MarkTimeout is analogous to MarkFailed.
func (s *Scheduler) MarkTimeout(id string) []string {
	return s.markTerminalFailure(id, plan.TaskStatusTimeout)
}

func (s *Scheduler) markTerminalFailure(id string, status plan.TaskStatus) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	s.releaseExclusive(t)
	t.Status = status

	var blocked []string
	queue := []string{id}
	seen := map[string]bool{id: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range s.forward[cur] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			next := s.tasks[dep]
			if next.Status == plan.TaskStatusPending || next.Status == plan.TaskStatusBlocked {
				next.Status = plan.TaskStatusBlocked
				blocked = append(blocked, dep)
				queue = append(queue, dep)
			}
		}
	}
	return blocked
}

func (s *Scheduler) releaseExclusive(t *plan.Task) {
	if !t.CanParallel {
		s.exclusiveRunning = false
	}
}

// IsAllDone reports whether every task has reached done or skipped.
func (s *Scheduler) IsAllDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if !plan.SatisfiesDependency(s.tasks[id].Status) {
			return false
		}
	}
	return true
}

// Task returns the current in-memory state of a task by id.
func (s *Scheduler) Task(id string) (plan.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return plan.Task{}, false
	}
	return *t, true
}
