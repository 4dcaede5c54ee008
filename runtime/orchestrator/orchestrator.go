// Package orchestrator implements the Orchestrator Façade: the single
// StreamResponses entry point spec §4.8 describes, wiring the Run Store,
// Graph Executor, State Store, and Emitter behind the 8-step algorithm.
// Streaming is push-based through a Sink, in the texture of goa-ai's
// runtime/stream.Sink rather than a channel the caller must drain.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/siteforge-ai/core/runtime/apperr"
	"github.com/siteforge-ai/core/runtime/emitter"
	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/graph"
	"github.com/siteforge-ai/core/runtime/ids"
	"github.com/siteforge-ai/core/runtime/run"
	"github.com/siteforge-ai/core/runtime/state"
	"github.com/siteforge-ai/core/runtime/telemetry"
)

// Action names the shape of a terminal or parked Response, mirroring the
// action values spec §6's HTTP contract documents.
type Action string

const (
	ActionPagesGenerated Action = "pages_generated"
	ActionDirectReply    Action = "direct_reply"
	ActionRefineWaiting  Action = "refine_waiting"
	ActionCancelled      Action = "cancelled"
	ActionFailed         Action = "failed"
)

// Response is one high-level record StreamResponses yields through the
// Sink. Pages is set for pages_generated and Message for direct_reply and
// refine_waiting; DataModelMigration accompanies the Response of a completed
// run when a node recorded one, and Error is set for failed.
type Response struct {
	RunID              string         `json:"run_id"`
	Action             Action         `json:"action"`
	Message            string         `json:"message,omitempty"`
	Pages              []string       `json:"pages,omitempty"`
	DataModelMigration map[string]any `json:"data_model_migration,omitempty"`
	Error              string         `json:"error,omitempty"`
}

// Sink delivers Responses to whatever consumes StreamResponses: an SSE
// writer, a test recorder, a CLI printer.
type Sink interface {
	Send(ctx context.Context, resp Response) error
}

// Resume carries the payload for continuing a parked run.
type Resume struct {
	RunID        string
	UserFeedback string
}

// Request is the input to StreamResponses.
type Request struct {
	SessionID      string
	UserMessage    string
	GenerateNow    bool
	StyleReference string
	TargetPages    []string
	Resume         *Resume
}

// Orchestrator drives one StreamResponses call end to end.
type Orchestrator struct {
	runs    run.Store
	states  state.Store
	graph   *graph.Executor
	emitter *emitter.Emitter
	cancel  *run.CancelSet
	logger  telemetry.Logger
}

// New builds an Orchestrator.
func New(runs run.Store, states state.Store, g *graph.Executor, em *emitter.Emitter, cancel *run.CancelSet, logger telemetry.Logger) *Orchestrator {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Orchestrator{runs: runs, states: states, graph: g, emitter: em, cancel: cancel, logger: logger}
}

// StreamResponses runs the spec §4.8 algorithm end to end: resolve or
// create a Run, drive the Graph Executor to completion/interrupt/
// cancellation, and send exactly one terminal or waiting-input Response.
// Blocks for the duration of the graph walk; callers that need to return an
// HTTP response before the walk finishes should use StreamResponsesAsync.
func (o *Orchestrator) StreamResponses(ctx context.Context, sink Sink, req Request) error {
	o.emit(ctx, req.SessionID, "", event.TypeAgentStart, map[string]any{"session_id": req.SessionID})

	r, initial, err := o.prepare(ctx, req)
	if err != nil {
		return err
	}
	return o.drive(ctx, sink, r, req, initial)
}

// StreamResponsesAsync mirrors StreamResponses but returns as soon as the
// Run is created (status=queued) or resolved for resume (status=running),
// continuing the drive to completion in a background goroutine against
// ctx. This is what the Run API uses so POST /api/runs can return 201
// queued immediately per spec §8 scenario 1, with progress observable
// afterward through the Event Store / SSE stream rather than blocking the
// request.
func (o *Orchestrator) StreamResponsesAsync(ctx context.Context, sink Sink, req Request) (run.Run, error) {
	o.emit(ctx, req.SessionID, "", event.TypeAgentStart, map[string]any{"session_id": req.SessionID})

	r, initial, err := o.prepare(ctx, req)
	if err != nil {
		return run.Run{}, err
	}

	go func() {
		if err := o.drive(ctx, sink, r, req, initial); err != nil {
			o.logger.Error(ctx, "orchestrator: background drive failed", "run_id", r.ID, "error", err)
		}
	}()
	return r, nil
}

// drive runs the graph walk for a created/resumed Run and dispatches to the
// matching terminal/waiting-input handler. For a freshly created run (not a
// resume), r arrives still queued — drive performs the queued→running
// transition and emits RunStarted itself, so POST /api/runs can hand back
// the queued run immediately while this still happens before the first
// graph step (spec §8 scenario 1).
func (o *Orchestrator) drive(ctx context.Context, sink Sink, r run.Run, req Request, initial graph.State) error {
	if req.Resume == nil {
		started, err := o.runs.Start(ctx, r.ID)
		if err != nil {
			return o.handleFailed(ctx, sink, r, err)
		}
		r = started
		o.emit(ctx, r.SessionID, r.ID, event.TypeRunStarted, map[string]any{"run_id": r.ID})
	}

	threadID := run.CheckpointThreadID(r.SessionID, r.ID)

	var result graph.Result
	var err error
	if req.Resume != nil {
		result, err = o.graph.Resume(ctx, r.SessionID, r.ID, threadID, req.Resume.UserFeedback)
	} else {
		result, err = o.graph.Run(ctx, r.SessionID, r.ID, threadID, initial)
	}

	if apperr.Is(err, apperr.CategoryAborted) {
		return o.handleCancelled(ctx, sink, r)
	}
	if err != nil {
		return o.handleFailed(ctx, sink, r, err)
	}
	if result.Interrupt != nil {
		return o.handleWaitingInput(ctx, sink, r, *result.Interrupt)
	}
	return o.handleCompleted(ctx, sink, r, result.State)
}

// Cancel implements the cooperative cancellation path the HTTP cancel
// endpoint drives (spec §5): persist the cancelled status, add the run to
// the process-wide cancelled set so the next node/task poll observes it,
// and emit RunCancelled. A run already in a terminal status is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) (run.CancelOutcome, error) {
	outcome, err := o.runs.Cancel(ctx, runID)
	if err != nil {
		return run.CancelOutcome{}, err
	}
	if outcome.AlreadyTerminal {
		return outcome, nil
	}
	o.cancel.Mark(runID)
	o.emit(ctx, outcome.Run.SessionID, runID, event.TypeRunCancelled, map[string]any{"run_id": runID})
	return outcome, nil
}

func (o *Orchestrator) prepare(ctx context.Context, req Request) (run.Run, graph.State, error) {
	if req.Resume != nil {
		r, err := o.resolveResumeTarget(ctx, req.SessionID, req.Resume.RunID)
		if err != nil {
			return run.Run{}, graph.State{}, err
		}
		r, err = o.runs.Start(ctx, r.ID)
		if err != nil {
			return run.Run{}, graph.State{}, err
		}
		o.emit(ctx, r.SessionID, r.ID, event.TypeRunResumed, map[string]any{"run_id": r.ID})
		return r, graph.State{}, nil
	}

	r, err := o.runs.Create(ctx, run.New{
		SessionID:     req.SessionID,
		TriggerSource: "user_message",
		InputMessage:  req.UserMessage,
	}, "")
	if err != nil {
		return run.Run{}, graph.State{}, err
	}
	o.emit(ctx, r.SessionID, r.ID, event.TypeRunCreated, map[string]any{"run_id": r.ID})

	// r is left in status=queued here: the queued→running transition and
	// RunStarted emit happen in drive, so a caller using
	// StreamResponsesAsync (the HTTP create path) gets back the queued run
	// per spec §8 scenario 1, not a run already marked running.
	initial := graph.State{
		UserInput:        req.UserMessage,
		RunID:            r.ID,
		AestheticEnabled: req.GenerateNow,
		Pages:            req.TargetPages,
	}
	if req.StyleReference != "" {
		initial.StyleTokens = map[string]any{"_reference": req.StyleReference}
	}
	return r, initial, nil
}

func (o *Orchestrator) resolveResumeTarget(ctx context.Context, sessionID, runID string) (run.Run, error) {
	if runID != "" {
		return o.runs.Get(ctx, runID)
	}
	r, err := o.runs.GetLatestWaiting(ctx, sessionID)
	if err != nil {
		return run.Run{}, apperr.Wrap(apperr.CategoryStateConflict, "orchestrator: no waiting_input run to resume for session "+sessionID, err)
	}
	return r, nil
}

func (o *Orchestrator) handleCancelled(ctx context.Context, sink Sink, r run.Run) error {
	if _, err := o.runs.Cancel(ctx, r.ID); err != nil {
		o.logger.Error(ctx, "orchestrator: persist cancelled failed", "run_id", r.ID, "error", err)
	}
	o.emit(ctx, r.SessionID, r.ID, event.TypeRunCancelled, map[string]any{"run_id": r.ID})
	return sink.Send(ctx, Response{RunID: r.ID, Action: ActionCancelled})
}

func (o *Orchestrator) handleFailed(ctx context.Context, sink Sink, r run.Run, cause error) error {
	latestError, _ := json.Marshal(map[string]any{"message": cause.Error(), "category": apperr.CategoryOf(cause)})
	if _, err := o.runs.PersistState(ctx, r.ID, run.StatusFailed, run.PersistFields{LatestError: latestError}); err != nil {
		o.logger.Error(ctx, "orchestrator: persist failed state failed", "run_id", r.ID, "error", err)
	}
	o.emit(ctx, r.SessionID, r.ID, event.TypeRunFailed, map[string]any{"run_id": r.ID, "error": cause.Error()})
	return sink.Send(ctx, Response{RunID: r.ID, Action: ActionFailed, Error: cause.Error()})
}

func (o *Orchestrator) handleWaitingInput(ctx context.Context, sink Sink, r run.Run, interrupt graph.Interrupt) error {
	if _, err := o.runs.PersistState(ctx, r.ID, run.StatusWaitingInput, run.PersistFields{}); err != nil {
		o.logger.Error(ctx, "orchestrator: persist waiting_input failed", "run_id", r.ID, "error", err)
	}
	o.emit(ctx, r.SessionID, r.ID, event.TypeRunWaitingInput, map[string]any{"run_id": r.ID, "interrupt_type": interrupt.Type})
	return sink.Send(ctx, Response{RunID: r.ID, Action: ActionRefineWaiting, Message: interrupt.Message})
}

func (o *Orchestrator) handleCompleted(ctx context.Context, sink Sink, r run.Run, final graph.State) error {
	graphState, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal final graph state: %w", err)
	}
	scrubbed := state.Scrub(graphState)

	artifacts, err := json.Marshal(final.BuildArtifacts)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal build artifacts: %w", err)
	}

	if o.states != nil {
		if err := o.states.Save(ctx, state.State{
			SessionID:      r.SessionID,
			GraphState:     scrubbed,
			BuildStatus:    state.BuildStatusSuccess,
			BuildArtifacts: artifacts,
		}); err != nil {
			o.logger.Error(ctx, "orchestrator: save completed state failed", "session_id", r.SessionID, "error", err)
		}
	}

	if _, err := o.runs.PersistState(ctx, r.ID, run.StatusCompleted, run.PersistFields{}); err != nil {
		o.logger.Error(ctx, "orchestrator: persist completed state failed", "run_id", r.ID, "error", err)
	}

	migration := migrationSummary(final.BuildArtifacts)
	o.emit(ctx, r.SessionID, r.ID, event.TypeRunCompleted, map[string]any{"run_id": r.ID, "data_model_migration": migration})

	if len(final.Pages) > 0 {
		return sink.Send(ctx, Response{RunID: r.ID, Action: ActionPagesGenerated, Pages: final.Pages, DataModelMigration: migration})
	}
	return sink.Send(ctx, Response{RunID: r.ID, Action: ActionDirectReply, Message: final.UserFeedback, DataModelMigration: migration})
}

// migrationSummary extracts the optional data_model_migration summary a
// node may have stashed in build artifacts; most runs produce none.
func migrationSummary(artifacts map[string]any) map[string]any {
	if artifacts == nil {
		return nil
	}
	summary, ok := artifacts["data_model_migration"].(map[string]any)
	if !ok {
		return nil
	}
	return summary
}

func (o *Orchestrator) emit(ctx context.Context, sessionID, runID string, typ event.Type, payload map[string]any) {
	if o.emitter == nil {
		return
	}
	if _, err := o.emitter.Emit(ctx, event.NewEvent{
		SessionID: sessionID, RunID: runID, EventID: ids.New(), Type: typ, Payload: payload, Source: event.SourceSession,
	}); err != nil {
		o.logger.Error(ctx, "orchestrator: emit failed", "error", err)
	}
}
