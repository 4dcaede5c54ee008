// Package executor implements the Parallel Executor: a bounded pool of
// cooperative task coroutines driven by the Dependency Scheduler, with
// per-task timeout, exponential-backoff retry, and cooperative cancellation,
// grounded on the semaphore-bounded worker-pool shape used across the
// example pack's DAG runners.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/siteforge-ai/core/runtime/apperr"
	"github.com/siteforge-ai/core/runtime/emitter"
	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/ids"
	"github.com/siteforge-ai/core/runtime/plan"
	"github.com/siteforge-ai/core/runtime/run"
	"github.com/siteforge-ai/core/runtime/scheduler"
	"github.com/siteforge-ai/core/runtime/telemetry"
)

// TaskExecutor is a pluggable strategy for one agent_type.
type TaskExecutor interface {
	Execute(ctx context.Context, task plan.Task) (map[string]any, error)
}

// Factory resolves the TaskExecutor registered for an agent_type.
type Factory interface {
	ForAgentType(agentType string) (TaskExecutor, bool)
}

// Config holds the Parallel Executor's tunables; zero values fall back to
// the spec defaults via WithDefaults.
type Config struct {
	MaxConcurrent      int
	PollInterval       time.Duration
	SweepInterval      time.Duration
	TaskTimeout        time.Duration
	TaskTimeoutMinutes time.Duration
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMultiplier    float64
}

// WithDefaults fills zero fields with the spec's defaults.
func (c Config) WithDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 600 * time.Second
	}
	if c.TaskTimeoutMinutes <= 0 {
		c.TaskTimeoutMinutes = 30 * time.Minute
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMultiplier <= 0 {
		c.RetryMultiplier = 2
	}
	return c
}

// Executor runs one plan's task DAG to completion (or cancellation).
type Executor struct {
	sched   *scheduler.Scheduler
	factory Factory
	emitter *emitter.Emitter
	cancel  *run.CancelSet
	cfg     Config
	logger  telemetry.Logger

	mu      sync.Mutex
	started map[string]time.Time
}

// New builds an Executor over an already-constructed Scheduler.
func New(sched *scheduler.Scheduler, factory Factory, em *emitter.Emitter, cancel *run.CancelSet, cfg Config, logger telemetry.Logger) *Executor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Executor{
		sched:   sched,
		factory: factory,
		emitter: em,
		cancel:  cancel,
		cfg:     cfg.WithDefaults(),
		logger:  logger,
		started: make(map[string]time.Time),
	}
}

// Run drives the plan to completion: ready-task dispatch, periodic stale
// sweep, and cooperative cancellation, returning when every task is done,
// skipped, or the run is cancelled.
func (e *Executor) Run(ctx context.Context, sessionID, runID string) error {
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.MaxConcurrent)
	lastSweep := time.Now()

	for {
		if e.cancel.IsCancelled(runID) {
			wg.Wait()
			return apperr.New(apperr.CategoryAborted, "run cancelled")
		}
		if time.Since(lastSweep) >= e.cfg.SweepInterval {
			e.sweepStale(ctx, sessionID, runID)
			lastSweep = time.Now()
		}

		ready := e.sched.GetReadyTasks(e.cfg.MaxConcurrent)
		for _, t := range ready {
			e.sched.MarkRunning(t.ID)
			e.mu.Lock()
			e.started[t.ID] = time.Now()
			e.mu.Unlock()

			wg.Add(1)
			sem <- struct{}{}
			go func(task plan.Task) {
				defer wg.Done()
				defer func() { <-sem }()
				e.runTask(ctx, sessionID, runID, task)
			}(t)
		}

		if e.sched.IsAllDone() && len(ready) == 0 {
			wg.Wait()
			return nil
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

func (e *Executor) sweepStale(ctx context.Context, sessionID, runID string) {
	e.mu.Lock()
	stale := make([]string, 0)
	for id, startedAt := range e.started {
		if time.Since(startedAt) > e.cfg.TaskTimeoutMinutes {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		blocked := e.sched.MarkTimeout(id)
		e.emit(ctx, sessionID, runID, event.TypeTaskTimeout, map[string]any{"task_id": id, "blocked_tasks": blocked})
		for _, b := range blocked {
			e.emit(ctx, sessionID, runID, event.TypeTaskBlocked, map[string]any{"task_id": b, "blocked_by": id})
		}
	}
}

func (e *Executor) runTask(ctx context.Context, sessionID, runID string, task plan.Task) {
	e.emit(ctx, sessionID, runID, event.TypeTaskStarted, map[string]any{"task_id": task.ID, "agent_type": task.AgentType})

	strategy, ok := e.factory.ForAgentType(task.AgentType)
	if !ok {
		e.fail(ctx, sessionID, runID, task, apperr.New(apperr.CategoryValidation, "unknown agent_type "+task.AgentType))
		return
	}

	attempt := 0
	for {
		attempt++
		if e.cancel.IsCancelled(runID) {
			e.sched.MarkFailed(task.ID)
			e.emit(ctx, sessionID, runID, event.TypeTaskAborted, map[string]any{"task_id": task.ID})
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
		result, err := strategy.Execute(taskCtx, task)
		cancel()

		if err == nil {
			e.sched.MarkCompleted(task.ID)
			e.emit(ctx, sessionID, runID, event.TypeTaskDone, map[string]any{"task_id": task.ID, "result": result})
			return
		}

		if apperr.CategoryOf(err) == apperr.CategoryTemporary && attempt <= e.cfg.RetryMaxAttempts {
			delay := backoff(e.cfg.RetryBaseDelay, e.cfg.RetryMultiplier, attempt)
			e.emit(ctx, sessionID, runID, event.TypeTaskRetrying, map[string]any{"task_id": task.ID, "attempt": attempt, "delay_ms": delay.Milliseconds()})
			select {
			case <-ctx.Done():
				e.fail(ctx, sessionID, runID, task, ctx.Err())
				return
			case <-time.After(delay):
			}
			continue
		}

		e.fail(ctx, sessionID, runID, task, err)
		return
	}
}

func (e *Executor) fail(ctx context.Context, sessionID, runID string, task plan.Task, err error) {
	blocked := e.sched.MarkFailed(task.ID)
	traceID := ids.New()
	e.emit(ctx, sessionID, runID, event.TypeTaskFailed, map[string]any{
		"task_id": task.ID, "error": err.Error(), "trace_id": traceID, "blocked_tasks": blocked,
	})
}

func backoff(base time.Duration, multiplier float64, attempt int) time.Duration {
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= multiplier
	}
	return time.Duration(d)
}

func (e *Executor) emit(ctx context.Context, sessionID, runID string, typ event.Type, payload map[string]any) {
	if e.emitter == nil {
		return
	}
	if _, err := e.emitter.Emit(ctx, event.NewEvent{
		SessionID: sessionID, RunID: runID, EventID: ids.New(), Type: typ, Payload: payload, Source: event.SourceTask,
	}); err != nil {
		e.logger.Error(ctx, "executor: emit failed", "error", err)
	}
}
