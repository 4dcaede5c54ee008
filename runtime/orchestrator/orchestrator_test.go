package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memorystore "github.com/siteforge-ai/core/features/event/memory"
	checkpointmem "github.com/siteforge-ai/core/features/graph/checkpoint/memory"
	"github.com/siteforge-ai/core/runtime/emitter"
	"github.com/siteforge-ai/core/runtime/graph"
	"github.com/siteforge-ai/core/runtime/graph/engine/inmem"
	"github.com/siteforge-ai/core/runtime/ids"
	"github.com/siteforge-ai/core/runtime/run"
	"github.com/siteforge-ai/core/runtime/state"
)

// fakeRunStore is a minimal in-memory run.Store for orchestrator tests: it
// enforces the same state machine as the sql implementation without a
// database.
type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]run.Run
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]run.Run)}
}

func (f *fakeRunStore) Create(_ context.Context, in run.New, _ string) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := run.Run{
		ID:               ids.NewWithPrefix("run"),
		SessionID:        in.SessionID,
		TriggerSource:    in.TriggerSource,
		Status:           run.StatusQueued,
		InputMessage:     in.InputMessage,
		CheckpointThread: run.CheckpointThreadID(in.SessionID, ""),
	}
	f.runs[r.ID] = r
	return r, nil
}

func (f *fakeRunStore) Get(_ context.Context, id string) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return run.Run{}, fmt.Errorf("fakeRunStore: run %s not found", id)
	}
	return r, nil
}

func (f *fakeRunStore) ListBySession(_ context.Context, sessionID string) ([]run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []run.Run
	for _, r := range f.runs {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRunStore) GetLatestWaiting(_ context.Context, sessionID string) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.SessionID == sessionID && r.Status == run.StatusWaitingInput {
			return r, nil
		}
	}
	return run.Run{}, fmt.Errorf("fakeRunStore: no waiting_input run for session %s", sessionID)
}

func (f *fakeRunStore) Start(ctx context.Context, id string) (run.Run, error) {
	return f.PersistState(ctx, id, run.StatusRunning, run.PersistFields{})
}

func (f *fakeRunStore) Resume(_ context.Context, _, runID string, payload json.RawMessage, _ string) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[runID]
	r.Status = run.StatusRunning
	r.ResumePayload = payload
	f.runs[runID] = r
	return r, nil
}

func (f *fakeRunStore) Cancel(_ context.Context, id string) (run.CancelOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[id]
	if run.IsTerminal(r.Status) {
		return run.CancelOutcome{Run: r, AlreadyTerminal: true}, nil
	}
	r.Status = run.StatusCancelled
	f.runs[id] = r
	return run.CancelOutcome{Run: r}, nil
}

func (f *fakeRunStore) PersistState(_ context.Context, id string, status run.Status, fields run.PersistFields) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return run.Run{}, fmt.Errorf("fakeRunStore: run %s not found", id)
	}
	if !run.CanTransition(r.Status, status) {
		return run.Run{}, fmt.Errorf("fakeRunStore: illegal transition %s -> %s", r.Status, status)
	}
	r.Status = status
	if fields.LatestError != nil {
		r.LatestError = fields.LatestError
	}
	now := time.Now()
	if status == run.StatusRunning && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if run.IsTerminal(status) && r.FinishedAt == nil {
		r.FinishedAt = &now
	}
	f.runs[id] = r
	return r, nil
}

func (f *fakeRunStore) ListStale(_ context.Context, status run.Status, olderThan time.Duration) ([]run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []run.Run
	cutoff := time.Now().Add(-olderThan)
	for _, r := range f.runs {
		if r.Status == status && r.UpdatedAt.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	return stale, nil
}

var _ run.Store = (*fakeRunStore)(nil)

// fakeStateStore is a minimal in-memory state.Store for orchestrator tests.
type fakeStateStore struct {
	mu    sync.Mutex
	saved map[string]state.State
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{saved: make(map[string]state.State)}
}

func (f *fakeStateStore) Save(_ context.Context, s state.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[s.SessionID] = s
	return nil
}

func (f *fakeStateStore) Load(_ context.Context, sessionID string) (state.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[sessionID], nil
}

func (f *fakeStateStore) UpdateMetadata(context.Context, string, state.Metadata) error { return nil }
func (f *fakeStateStore) Clear(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, sessionID)
	return nil
}

var _ state.Store = (*fakeStateStore)(nil)

// recordingSink captures every Response sent to it, in order.
type recordingSink struct {
	mu        sync.Mutex
	responses []Response
}

func (s *recordingSink) Send(_ context.Context, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	return nil
}

func newTestOrchestrator(t *testing.T, g *graph.Graph) (*Orchestrator, *fakeRunStore, *fakeStateStore, *run.CancelSet) {
	t.Helper()
	eng := inmem.New()
	cp := checkpointmem.New()
	cancel := run.NewCancelSet()
	em := emitter.New(memorystore.New(), nil)

	exec, err := graph.NewExecutor(context.Background(), g, eng, cp, cancel, em, nil)
	require.NoError(t, err)

	runs := newFakeRunStore()
	states := newFakeStateStore()
	return New(runs, states, exec, em, cancel, nil), runs, states, cancel
}

func onePageGraph() *graph.Graph {
	g := graph.New("generate")
	g.AddNode(graph.Node{Name: "generate", Class: graph.ClassIO, Fn: func(_ context.Context, _ graph.State) (graph.State, error) {
		return graph.State{Pages: []string{"index", "about"}}, nil
	}})
	g.AddEdge("generate", graph.End)
	return g
}

func directReplyGraph() *graph.Graph {
	g := graph.New("generate")
	g.AddNode(graph.Node{Name: "generate", Class: graph.ClassIO, Fn: func(_ context.Context, _ graph.State) (graph.State, error) {
		return graph.State{UserFeedback: "here is your answer"}, nil
	}})
	g.AddEdge("generate", graph.End)
	return g
}

func interruptOnceGraph(parked *bool) *graph.Graph {
	g := graph.New("refine_gate")
	g.AddNode(graph.Node{Name: "refine_gate", Class: graph.ClassLLM, Fn: func(_ context.Context, _ graph.State) (graph.State, error) {
		if !*parked {
			*parked = true
			return graph.State{}, graph.Interrupted(graph.Interrupt{Type: "await_feedback", Message: "need your review"})
		}
		return graph.State{Pages: []string{"index"}}, nil
	}})
	g.AddEdge("refine_gate", graph.End)
	return g
}

func TestStreamResponses_CompletesWithPagesGenerated(t *testing.T) {
	t.Parallel()

	o, runs, states, _ := newTestOrchestrator(t, onePageGraph())
	sink := &recordingSink{}

	err := o.StreamResponses(context.Background(), sink, Request{SessionID: "sess-1", UserMessage: "build me a landing page"})
	require.NoError(t, err)
	require.Len(t, sink.responses, 1)
	require.Equal(t, ActionPagesGenerated, sink.responses[0].Action)
	require.Equal(t, []string{"index", "about"}, sink.responses[0].Pages)

	all, err := runs.ListBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, run.StatusCompleted, all[0].Status)

	saved, err := states.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, state.BuildStatusSuccess, saved.BuildStatus)
}

func TestStreamResponses_CompletesWithDirectReplyWhenNoPages(t *testing.T) {
	t.Parallel()

	o, _, _, _ := newTestOrchestrator(t, directReplyGraph())
	sink := &recordingSink{}

	err := o.StreamResponses(context.Background(), sink, Request{SessionID: "sess-2", UserMessage: "what can you do?"})
	require.NoError(t, err)
	require.Len(t, sink.responses, 1)
	require.Equal(t, ActionDirectReply, sink.responses[0].Action)
	require.Equal(t, "here is your answer", sink.responses[0].Message)
}

func TestStreamResponses_ParksThenResumeCompletes(t *testing.T) {
	t.Parallel()

	parked := false
	o, runs, _, _ := newTestOrchestrator(t, interruptOnceGraph(&parked))
	sink := &recordingSink{}

	err := o.StreamResponses(context.Background(), sink, Request{SessionID: "sess-3", UserMessage: "make me a card"})
	require.NoError(t, err)
	require.Len(t, sink.responses, 1)
	require.Equal(t, ActionRefineWaiting, sink.responses[0].Action)
	require.Equal(t, "need your review", sink.responses[0].Message)

	all, err := runs.ListBySession(context.Background(), "sess-3")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, run.StatusWaitingInput, all[0].Status)
	runID := all[0].ID

	err = o.StreamResponses(context.Background(), sink, Request{SessionID: "sess-3", Resume: &Resume{RunID: runID, UserFeedback: "bigger font"}})
	require.NoError(t, err)
	require.Len(t, sink.responses, 2)
	require.Equal(t, ActionPagesGenerated, sink.responses[1].Action)
	require.Equal(t, []string{"index"}, sink.responses[1].Pages)

	r, err := runs.Get(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, r.Status)
}

func TestStreamResponses_CancelledMidRunYieldsCancelledAction(t *testing.T) {
	t.Parallel()

	g := graph.New("generate")
	var cancel *run.CancelSet
	g.AddNode(graph.Node{Name: "generate", Class: graph.ClassIO, Fn: func(_ context.Context, state graph.State) (graph.State, error) {
		// Simulates an external cancel request landing mid-node: the
		// executor's post-node poll observes it before computing the next
		// node, so the run ends aborted rather than completed.
		cancel.Mark(state.RunID)
		return graph.State{}, nil
	}})
	g.AddEdge("generate", graph.End)

	o, runs, _, cs := newTestOrchestrator(t, g)
	cancel = cs
	sink := &recordingSink{}

	err := o.StreamResponses(context.Background(), sink, Request{SessionID: "sess-4", UserMessage: "cancel me"})
	require.NoError(t, err)
	require.Len(t, sink.responses, 1)
	require.Equal(t, ActionCancelled, sink.responses[0].Action)

	all, err := runs.ListBySession(context.Background(), "sess-4")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, run.StatusCancelled, all[0].Status)
}

func TestCancel_MarksRunAndCancelSet(t *testing.T) {
	t.Parallel()

	o, runs, _, cs := newTestOrchestrator(t, onePageGraph())
	r, err := runs.Create(context.Background(), run.New{SessionID: "sess-5"}, "")
	require.NoError(t, err)
	r, err = runs.Start(context.Background(), r.ID)
	require.NoError(t, err)

	outcome, err := o.Cancel(context.Background(), r.ID)
	require.NoError(t, err)
	require.False(t, outcome.AlreadyTerminal)
	require.True(t, cs.IsCancelled(r.ID))

	outcome, err = o.Cancel(context.Background(), r.ID)
	require.NoError(t, err)
	require.True(t, outcome.AlreadyTerminal, "second cancel on an already-terminal run is a no-op")
}
