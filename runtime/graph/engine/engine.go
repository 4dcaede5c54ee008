// Package engine defines the pluggable workflow-execution abstraction the
// Graph Executor drives, mirroring goa-ai's runtime/agent/engine.Engine:
// the same static node graph can run under an in-memory adapter (tests,
// single-process dev) or a Temporal adapter (durable production execution)
// without the graph package itself knowing which is active.
package engine

import (
	"context"
	"time"
)

type (
	// Engine abstracts workflow registration and execution so adapters
	// (Temporal, in-memory) can be swapped without touching runtime/graph.
	Engine interface {
		// RegisterWorkflow registers a workflow definition. Called once during
		// graph-executor initialization, before any StartWorkflow call.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity definition. One activity is
		// registered per graph node; the graph executor's node wrapper becomes
		// the activity handler so retry/timeout policy is applied uniformly by
		// the engine rather than hand-rolled per node.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow begins one run's graph walk. req.ID is the run's
		// checkpoint thread id.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds the graph-walking handler to a logical name.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the graph-walking entry point: it receives the typed
	// GraphState as input (via WorkflowContext.Context/ExecuteActivity) and
	// returns the final state or an interrupt/cancellation error.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to the workflow handler.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		// ExecuteActivity runs one graph node synchronously and decodes its
		// output into result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel delivers resume payloads into a parked workflow.
		SignalChannel(name string) SignalChannel

		Now() time.Time
	}

	// Future is a pending activity result.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers one node's handler with the engine.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc executes one graph node's body.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures per-node retry/timeout, set from the node
	// class's retry policy (I/O nodes max 2 attempts, LLM nodes max 3).
	ActivityOptions struct {
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch one run's graph walk.
	WorkflowStartRequest struct {
		ID        string
		Workflow  string
		TaskQueue string
		Input     any
	}

	// ActivityRequest schedules one node execution from within the workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets the graph executor interact with a running walk.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy mirrors goa-ai's engine.RetryPolicy shape.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel delivers out-of-band values (resume payloads) into a
	// running or parked workflow.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)

// ErrWorkflowNotFound is returned by engines that track run status when
// asked about an unknown workflow id.
var ErrWorkflowNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "engine: workflow not found" }
