package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	"github.com/siteforge-ai/core/runtime/orchestrator"
	"github.com/siteforge-ai/core/runtime/run"
	"github.com/siteforge-ai/core/runtime/state"
)

// fakeRunStore and fakeStateStore mirror runtime/orchestrator's test doubles
// of the same name: a minimal in-memory run.Store/state.Store enforcing the
// same state machine the sql implementations do, without a database.

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]run.Run
}

func newFakeRunStore() *fakeRunStore { return &fakeRunStore{runs: make(map[string]run.Run)} }

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

type fakeStateStore struct {
	mu    sync.Mutex
	saved map[string]state.State
}

func newFakeStateStore() *fakeStateStore { return &fakeStateStore{saved: make(map[string]state.State)} }

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

// onePageGraph completes immediately with two generated pages.
func onePageGraph() *graph.Graph {
	g := graph.New("generate")
	g.AddNode(graph.Node{Name: "generate", Class: graph.ClassIO, Fn: func(_ context.Context, _ graph.State) (graph.State, error) {
		return graph.State{Pages: []string{"index", "about"}}, nil
	}})
	g.AddEdge("generate", graph.End)
	return g
}

// interruptOnceGraph parks on its first arrival and completes on resume,
// mirroring runtime/graph/nodes' refine_gate shape at test scale.
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

type testServer struct {
	*httptest.Server
	runs   *fakeRunStore
	events *memorystore.Store
}

func newTestServer(t *testing.T, g *graph.Graph) *testServer {
	t.Helper()
	eng := inmem.New()
	cp := checkpointmem.New()
	cancel := run.NewCancelSet()
	events := memorystore.New()
	em := emitter.New(events, nil)

	exec, err := graph.NewExecutor(context.Background(), g, eng, cp, cancel, em, nil)
	require.NoError(t, err)

	runs := newFakeRunStore()
	states := newFakeStateStore()
	orch := orchestrator.New(runs, states, exec, em, cancel, nil)

	srv := New(orch, runs, events, DefaultConfig(), nil)
	return &testServer{Server: httptest.NewServer(srv), runs: runs, events: events}
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeRun(t *testing.T, resp *http.Response) run.Run {
	t.Helper()
	defer resp.Body.Close()
	var r run.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return r
}

func TestHandleCreateRun_ReturnsQueuedImmediately(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, onePageGraph())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/runs/", createRunRequest{SessionID: "sess-1", Message: "build me a page"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeRun(t, resp)
	require.NotEmpty(t, created.ID)
	require.Equal(t, run.StatusQueued, created.Status)
}

func TestHandleCreateRun_MissingSessionID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, onePageGraph())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/runs/", createRunRequest{Message: "no session"}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleCreateRun_IdempotencyKeyReplaysCachedResponse(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, onePageGraph())
	defer srv.Close()

	body := createRunRequest{SessionID: "sess-1", Message: "build me a page"}
	first := postJSON(t, srv.URL+"/api/runs/", body, map[string]string{"Idempotency-Key": "k1"})
	firstRun := decodeRun(t, first)

	second := postJSON(t, srv.URL+"/api/runs/", body, map[string]string{"Idempotency-Key": "k1"})
	secondRun := decodeRun(t, second)

	require.Equal(t, firstRun.ID, secondRun.ID)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, onePageGraph())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleGetRun_EventuallyCompletes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, onePageGraph())
	defer srv.Close()

	created := decodeRun(t, postJSON(t, srv.URL+"/api/runs/", createRunRequest{SessionID: "sess-1", Message: "hi"}, nil))

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/runs/" + created.ID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		r := decodeRun(t, resp)
		return r.Status == run.StatusCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestHandleResumeRun_ConflictWhenNotWaitingInput(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, onePageGraph())
	defer srv.Close()

	created := decodeRun(t, postJSON(t, srv.URL+"/api/runs/", createRunRequest{SessionID: "sess-1", Message: "hi"}, nil))

	resp := postJSON(t, srv.URL+"/api/runs/"+created.ID+"/resume", resumeRunRequest{Resume: json.RawMessage(`"looks great"`)}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleResumeRun_SucceedsOnWaitingRun(t *testing.T) {
	t.Parallel()

	parked := new(bool)
	srv := newTestServer(t, interruptOnceGraph(parked))
	defer srv.Close()

	created := decodeRun(t, postJSON(t, srv.URL+"/api/runs/", createRunRequest{SessionID: "sess-1", Message: "hi"}, nil))

	require.Eventually(t, func() bool {
		r, err := srv.runs.Get(context.Background(), created.ID)
		return err == nil && r.Status == run.StatusWaitingInput
	}, time.Second, 10*time.Millisecond)

	resp := postJSON(t, srv.URL+"/api/runs/"+created.ID+"/resume", resumeRunRequest{Resume: json.RawMessage(`"looks great"`)}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resumed := decodeRun(t, resp)
	require.Equal(t, run.StatusRunning, resumed.Status)
}

func TestHandleCancelRun_MarksCancelled(t *testing.T) {
	t.Parallel()

	parked := new(bool)
	srv := newTestServer(t, interruptOnceGraph(parked))
	defer srv.Close()

	created := decodeRun(t, postJSON(t, srv.URL+"/api/runs/", createRunRequest{SessionID: "sess-1", Message: "hi"}, nil))

	resp := postJSON(t, srv.URL+"/api/runs/"+created.ID+"/cancel", struct{}{}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	cancelled := decodeRun(t, resp)
	require.Equal(t, run.StatusCancelled, cancelled.Status)
}

func TestHandleRunEvents_ReturnsJSONPage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, onePageGraph())
	defer srv.Close()

	created := decodeRun(t, postJSON(t, srv.URL+"/api/runs/", createRunRequest{SessionID: "sess-1", Message: "hi"}, nil))

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/runs/" + created.ID + "/events")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var page eventsPageResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
		return len(page.Events) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestHandleHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, onePageGraph())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health.Status)
}
