// Package temporal adapts runtime/graph/engine.Engine onto Temporal, the
// durable-execution backend for production graph runs, grounded on goa-ai's
// runtime/agent/engine/temporal adapter (per-task-queue worker bundles,
// workflow/activity registration, retry-policy conversion).
package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/siteforge-ai/core/runtime/graph/engine"
	"github.com/siteforge-ai/core/runtime/telemetry"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions builds
	// one lazily.
	Client client.Client
	// ClientOptions builds the client when Client is nil.
	ClientOptions *client.Options
	// TaskQueue is the default queue used when a definition omits one.
	TaskQueue string
	Logger    telemetry.Logger
}

// Engine implements engine.Engine using Temporal workflows/activities: one
// workflow execution per run, one activity per graph node.
type Engine struct {
	client       client.Client
	closeClient  bool
	defaultQueue string
	logger       telemetry.Logger

	mu              sync.Mutex
	bundle          *workerBundle
	workflows       map[string]engine.WorkflowDefinition
	activityOptions map[string]engine.ActivityOptions
}

var _ engine.Engine = (*Engine)(nil)

// New constructs the adapter. Either Client or ClientOptions must be set.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options required when Client is nil")
		}
		var err error
		cli, err = client.NewLazyClient(*opts.ClientOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}
	e := &Engine{
		client:          cli,
		closeClient:     closeClient,
		defaultQueue:    opts.TaskQueue,
		logger:          logger,
		workflows:       make(map[string]engine.WorkflowDefinition),
		activityOptions: make(map[string]engine.ActivityOptions),
	}
	e.bundle = &workerBundle{queue: opts.TaskQueue, worker: worker.New(cli, opts.TaskQueue, worker.Options{})}
	return e, nil
}

// RegisterWorkflow registers the graph-walk handler with the Temporal worker.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid workflow definition")
	}
	e.bundle.worker.RegisterWorkflowWithOptions(func(tctx workflow.Context, input any) (any, error) {
		wfCtx := newWorkflowContext(e, tctx)
		return def.Handler(wfCtx, input)
	}, workflow.RegisterOptions{Name: def.Name})

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

// RegisterActivity registers one graph node's handler as a Temporal activity.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid activity definition")
	}
	e.bundle.worker.RegisterActivityWithOptions(def.Handler, activityRegisterOptions(def.Name))
	e.mu.Lock()
	e.activityOptions[def.Name] = def.Options
	e.mu.Unlock()
	return nil
}

// StartWorkflow launches the graph walk for one run.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporal engine: workflow name is required")
	}
	e.bundle.start(e.logger)

	queue := req.TaskQueue
	if queue == "" {
		queue = e.defaultQueue
	}
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}, req.Workflow, req.Input)
	if err != nil {
		return nil, err
	}
	return &handle{run: run, client: e.client}, nil
}

// Worker returns a controller for manually starting/stopping the worker.
func (e *Engine) Worker() *WorkerController { return &WorkerController{bundle: e.bundle, logger: e.logger} }

// Close shuts down the Temporal client if this adapter created it.
func (e *Engine) Close() {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}

func (e *Engine) activityDefaultsFor(name string) engine.ActivityOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activityOptions[name]
}

func activityRegisterOptions(name string) worker.RegisterActivityOptions {
	// worker.RegisterActivityOptions is an alias kept local to avoid importing
	// the activity subpackage just for the options type.
	return worker.RegisterActivityOptions{Name: name}
}

// WorkerController starts/stops the adapter's single worker.
type WorkerController struct {
	bundle *workerBundle
	logger telemetry.Logger
}

// Start launches the worker if it isn't already running.
func (c *WorkerController) Start() { c.bundle.start(c.logger) }

// Stop gracefully stops the worker.
func (c *WorkerController) Stop() { c.bundle.worker.Stop() }

type workerBundle struct {
	queue     string
	worker    worker.Worker
	startOnce sync.Once
}

func (b *workerBundle) start(logger telemetry.Logger) {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "error", err)
			}
		}()
	})
}

func convertRetryPolicy(r engine.RetryPolicy) *sdktemporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}
	p := &sdktemporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		p.MaximumAttempts = int32(r.MaxAttempts) //nolint:gosec // bounded by node-class retry policy
	}
	if r.InitialInterval > 0 {
		p.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		p.BackoffCoefficient = r.BackoffCoefficient
	}
	return p
}

type handle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *handle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
