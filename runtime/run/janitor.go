package run

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/siteforge-ai/core/runtime/telemetry"
)

// Janitor periodically reaps runs stuck in a non-terminal status past their
// staleness window — e.g. a worker that crashed mid-task without ever
// transitioning its run to failed. It complements the Parallel Executor's own
// per-run stale-task sweep (runtime/executor), which only watches runs it is
// actively driving; the janitor catches orphans no in-process executor
// still holds a reference to.
type Janitor struct {
	store     Store
	cron      *cron.Cron
	status    Status
	olderThan time.Duration
	onStale   func(context.Context, Run)
	logger    telemetry.Logger
}

// JanitorOption configures a Janitor beyond its required constructor args.
type JanitorOption func(*Janitor)

// WithStaleStatus overrides which status the janitor scans for. Defaults to
// StatusRunning.
func WithStaleStatus(s Status) JanitorOption {
	return func(j *Janitor) { j.status = s }
}

// WithOnStale registers a callback invoked once per stale run found, in
// addition to the janitor's own transition to failed. Callers use this to
// emit a session event or alert alongside the state change.
func WithOnStale(fn func(context.Context, Run)) JanitorOption {
	return func(j *Janitor) { j.onStale = fn }
}

// NewJanitor builds a Janitor that sweeps on the given standard cron
// schedule (e.g. "*/1 * * * *" for every minute), marking any run.Store
// entry in status for longer than olderThan as failed.
func NewJanitor(store Store, schedule string, olderThan time.Duration, logger telemetry.Logger, opts ...JanitorOption) (*Janitor, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	j := &Janitor{
		store:     store,
		cron:      cron.New(),
		status:    StatusRunning,
		olderThan: olderThan,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	if _, err := j.cron.AddFunc(schedule, j.sweepOnce); err != nil {
		return nil, err
	}
	return j, nil
}

// Start begins running the janitor's schedule in the background.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() { <-j.cron.Stop().Done() }

func (j *Janitor) sweepOnce() {
	ctx := context.Background()
	stale, err := j.store.ListStale(ctx, j.status, j.olderThan)
	if err != nil {
		j.logger.Error(ctx, "janitor: list stale runs", "error", err)
		return
	}
	for _, r := range stale {
		updated, err := j.store.PersistState(ctx, r.ID, StatusFailed, PersistFields{
			LatestError: []byte(`{"category":"timeout","message":"run exceeded staleness window with no progress"}`),
		})
		if err != nil {
			j.logger.Error(ctx, "janitor: fail stale run", "run_id", r.ID, "error", err)
			continue
		}
		if j.onStale != nil {
			j.onStale(ctx, updated)
		}
	}
}
