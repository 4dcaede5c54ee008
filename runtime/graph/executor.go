// Package graph implements the Graph Executor: a static node DAG (spec
// §4.7) driven through the pluggable runtime/graph/engine abstraction, with
// per-node retry classes, interrupt/resume, and cooperative cancellation
// polled at every node's entry and exit.
package graph

import (
	"context"
	"fmt"

	"github.com/siteforge-ai/core/runtime/apperr"
	"github.com/siteforge-ai/core/runtime/emitter"
	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/graph/engine"
	"github.com/siteforge-ai/core/runtime/ids"
	"github.com/siteforge-ai/core/runtime/run"
	"github.com/siteforge-ai/core/runtime/telemetry"
)

const workflowName = "graph_walk"

// Executor drives one Graph through an engine.Engine, checkpointing after
// every node and surfacing interrupts/cancellation to the Orchestrator.
type Executor struct {
	g          *Graph
	eng        engine.Engine
	checkpoint Checkpointer
	cancel     *run.CancelSet
	emitter    *emitter.Emitter
	logger     telemetry.Logger
}

// Result is what a graph walk produces: either a terminal state, a parked
// interrupt, or (surfaced as an error) a cancellation.
type Result struct {
	State     State
	Interrupt *Interrupt
	Done      bool
}

type walkInput struct {
	SessionID string
	RunID     string
	StartNode string
	State     State
}

type walkOutput struct {
	State     State
	Interrupt *Interrupt
	NextNode  string
	Done      bool
}

type nodeInput struct {
	SessionID string
	RunID     string
	State     State
}

type nodeOutput struct {
	State State
}

// NewExecutor builds an Executor, registering the graph-walk workflow and
// one activity per node with the engine.
func NewExecutor(ctx context.Context, g *Graph, eng engine.Engine, checkpoint Checkpointer, cancel *run.CancelSet, em *emitter.Emitter, logger telemetry.Logger) (*Executor, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	e := &Executor{g: g, eng: eng, checkpoint: checkpoint, cancel: cancel, emitter: em, logger: logger}

	for _, n := range g.Nodes() {
		if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
			Name:    n.Name,
			Handler: e.activityFor(n),
			Options: n.activityOptions(),
		}); err != nil {
			return nil, fmt.Errorf("graph: register activity %s: %w", n.Name, err)
		}
	}
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: workflowName, Handler: e.walk}); err != nil {
		return nil, fmt.Errorf("graph: register workflow: %w", err)
	}
	return e, nil
}

// Run starts a fresh walk from the graph's start node.
func (e *Executor) Run(ctx context.Context, sessionID, runID, threadID string, initial State) (Result, error) {
	initial.RunID = runID
	return e.runFrom(ctx, sessionID, runID, threadID, e.g.Start(), initial)
}

// Resume continues a parked walk from its checkpointed interrupt point,
// injecting the resume payload's feedback into state.UserFeedback.
func (e *Executor) Resume(ctx context.Context, sessionID, runID, threadID string, feedback string) (Result, error) {
	cp, ok, err := e.checkpoint.Get(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, apperr.New(apperr.CategoryStateConflict, "graph: no checkpoint for thread "+threadID)
	}
	state := cp.State
	state.UserFeedback = feedback
	return e.runFrom(ctx, sessionID, runID, threadID, cp.NextNode, state)
}

func (e *Executor) runFrom(ctx context.Context, sessionID, runID, threadID, startNode string, state State) (Result, error) {
	handle, err := e.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       threadID,
		Workflow: workflowName,
		Input:    walkInput{SessionID: sessionID, RunID: runID, StartNode: startNode, State: state},
	})
	if err != nil {
		return Result{}, err
	}

	var out walkOutput
	if err := handle.Wait(ctx, &out); err != nil {
		if err == context.Canceled {
			return Result{}, apperr.New(apperr.CategoryAborted, "graph: run cancelled")
		}
		return Result{}, err
	}

	if out.Interrupt != nil {
		if err := e.checkpoint.Put(ctx, Checkpoint{ThreadID: threadID, State: out.State, NextNode: out.NextNode, Interrupt: out.Interrupt}); err != nil {
			return Result{}, err
		}
		return Result{State: out.State, Interrupt: out.Interrupt}, nil
	}

	if err := e.checkpoint.Delete(ctx, threadID); err != nil {
		e.logger.Error(ctx, "graph: checkpoint cleanup failed", "thread_id", threadID, "error", err)
	}
	return Result{State: out.State, Done: out.Done}, nil
}

// walk is the workflow handler: it steps through the graph, consulting the
// Graph's routers for conditional edges and checking cancellation at every
// node boundary (spec §4.7 "cancellation polling").
func (e *Executor) walk(wctx engine.WorkflowContext, raw any) (any, error) {
	in, ok := raw.(walkInput)
	if !ok {
		return nil, apperr.New(apperr.CategoryFatal, "graph: invalid workflow input")
	}
	state := in.State
	node := in.StartNode

	for node != End {
		if e.cancel.IsCancelled(in.RunID) {
			return nil, context.Canceled
		}

		var out nodeOutput
		err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityRequest{Name: node, Input: nodeInput{SessionID: in.SessionID, RunID: in.RunID, State: state}}, &out)
		if err != nil {
			if interrupt, ok := asInterrupt(err); ok {
				return walkOutput{State: state, Interrupt: &interrupt, NextNode: node}, nil
			}
			return nil, err
		}
		state = state.Merge(out.State)
		state.CurrentNode = node

		if e.cancel.IsCancelled(in.RunID) {
			return nil, context.Canceled
		}
		node = e.g.Next(node, state)
	}
	return walkOutput{State: state, Done: true}, nil
}

// activityFor wraps one node's handler as an engine activity: it emits
// start/complete events around the call, per spec §4.7 "node event wrapping".
func (e *Executor) activityFor(n Node) engine.ActivityFunc {
	return func(ctx context.Context, raw any) (any, error) {
		in, ok := raw.(nodeInput)
		if !ok {
			return nil, apperr.New(apperr.CategoryFatal, "graph: invalid activity input")
		}
		e.emit(ctx, in.SessionID, in.RunID, event.TypeAgentStart, map[string]any{"node": n.Name})

		patch, err := n.Fn(ctx, in.State)
		if err != nil {
			if _, isInterrupt := asInterrupt(err); isInterrupt {
				e.emit(ctx, in.SessionID, in.RunID, event.TypeInterrupt, map[string]any{"node": n.Name})
				return nil, err
			}
			e.emit(ctx, in.SessionID, in.RunID, event.TypeError, map[string]any{"node": n.Name, "error": err.Error()})
			return nil, err
		}

		payload := map[string]any{"node": n.Name}
		if n.Payload != nil {
			for k, v := range n.Payload(patch) {
				payload[k] = v
			}
		}
		e.emit(ctx, in.SessionID, in.RunID, event.TypeAgentEnd, payload)
		return nodeOutput{State: patch}, nil
	}
}

func (e *Executor) emit(ctx context.Context, sessionID, runID string, typ event.Type, payload map[string]any) {
	if e.emitter == nil {
		return
	}
	if _, err := e.emitter.Emit(ctx, event.NewEvent{
		SessionID: sessionID, RunID: runID, EventID: ids.New(), Type: typ, Payload: payload, Source: event.SourcePlan,
	}); err != nil {
		e.logger.Error(ctx, "graph: emit failed", "error", err)
	}
}
