package run

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// janitorFakeStore is a minimal in-memory Store exercising only what
// Janitor calls: ListStale and PersistState.
type janitorFakeStore struct {
	mu   sync.Mutex
	runs map[string]Run
}

func newJanitorFakeStore(runs ...Run) *janitorFakeStore {
	s := &janitorFakeStore{runs: make(map[string]Run)}
	for _, r := range runs {
		s.runs[r.ID] = r
	}
	return s
}

func (s *janitorFakeStore) Create(context.Context, New, string) (Run, error) { panic("unused") }
func (s *janitorFakeStore) Get(_ context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id], nil
}
func (s *janitorFakeStore) ListBySession(context.Context, string) ([]Run, error) { panic("unused") }
func (s *janitorFakeStore) GetLatestWaiting(context.Context, string) (Run, error) {
	panic("unused")
}
func (s *janitorFakeStore) Start(context.Context, string) (Run, error) { panic("unused") }
func (s *janitorFakeStore) Resume(context.Context, string, string, json.RawMessage, string) (Run, error) {
	panic("unused")
}
func (s *janitorFakeStore) Cancel(context.Context, string) (CancelOutcome, error) {
	panic("unused")
}

func (s *janitorFakeStore) PersistState(_ context.Context, id string, status Status, fields PersistFields) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.runs[id]
	r.Status = status
	r.LatestError = fields.LatestError
	s.runs[id] = r
	return r, nil
}

func (s *janitorFakeStore) ListStale(_ context.Context, status Status, olderThan time.Duration) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var stale []Run
	for _, r := range s.runs {
		if r.Status == status && r.UpdatedAt.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	return stale, nil
}

var _ Store = (*janitorFakeStore)(nil)

func TestJanitor_SweepFailsStaleRunningRuns(t *testing.T) {
	t.Parallel()

	store := newJanitorFakeStore(Run{
		ID:        "run_1",
		Status:    StatusRunning,
		UpdatedAt: time.Now().Add(-time.Hour),
	})

	var stalled Run
	var mu sync.Mutex
	janitor, err := NewJanitor(store, "@every 10ms", 30*time.Minute, nil, WithOnStale(func(_ context.Context, r Run) {
		mu.Lock()
		defer mu.Unlock()
		stalled = r
	}))
	require.NoError(t, err)

	janitor.Start()
	defer janitor.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stalled.ID == "run_1"
	}, time.Second, 10*time.Millisecond)

	r, _ := store.Get(context.Background(), "run_1")
	require.Equal(t, StatusFailed, r.Status)
	require.NotNil(t, r.LatestError)
}

func TestJanitor_IgnoresRunsUnderStalenessWindow(t *testing.T) {
	t.Parallel()

	store := newJanitorFakeStore(Run{
		ID:        "run_2",
		Status:    StatusRunning,
		UpdatedAt: time.Now(),
	})

	janitor, err := NewJanitor(store, "@every 10ms", 30*time.Minute, nil)
	require.NoError(t, err)
	janitor.Start()
	defer janitor.Stop()

	time.Sleep(50 * time.Millisecond)

	r, _ := store.Get(context.Background(), "run_2")
	require.Equal(t, StatusRunning, r.Status)
}
