// Package memory provides an in-memory graph.Checkpointer for tests and
// single-process development (LANGGRAPH_CHECKPOINTER=memory).
package memory

import (
	"context"
	"sync"

	"github.com/siteforge-ai/core/runtime/graph"
)

// Store is an in-memory graph.Checkpointer. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	byID map[string]graph.Checkpoint
}

var _ graph.Checkpointer = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{byID: make(map[string]graph.Checkpoint)}
}

func (s *Store) Put(_ context.Context, cp graph.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cp.ThreadID] = cp
	return nil
}

func (s *Store) Get(_ context.Context, threadID string) (graph.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byID[threadID]
	return cp, ok, nil
}

func (s *Store) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, threadID)
	return nil
}
