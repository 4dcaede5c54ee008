// Package memory provides an in-memory implementation of the event store.
// Suitable for tests, local development, and single-process deployments
// where durability across restarts is not required.
package memory

import (
	"context"
	"sync"

	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/ids"
)

// Store is an in-memory event.Store. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	bySess  map[string][]event.SessionEvent
	nextSeq map[string]int64
}

var _ event.Store = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		bySess:  make(map[string][]event.SessionEvent),
		nextSeq: make(map[string]int64),
	}
}

// Append assigns the next per-session sequence number under the store's
// single mutex, which is what makes the sequence gap-free: the lock scopes
// exactly the critical section a per-row "SELECT ... FOR UPDATE" would
// scope in the SQL-backed store.
func (s *Store) Append(_ context.Context, ev event.NewEvent) (event.SessionEvent, error) {
	if ev.SessionID == "" {
		return event.SessionEvent{}, event.ErrInvalidSession
	}
	payload, err := event.MarshalPayload(ev.Payload)
	if err != nil {
		return event.SessionEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[ev.SessionID] + 1
	s.nextSeq[ev.SessionID] = seq

	eventID := ev.EventID
	if eventID == "" {
		eventID = ids.New()
	}
	row := event.SessionEvent{
		SessionID: ev.SessionID,
		Seq:       seq,
		RunID:     ev.RunID,
		EventID:   eventID,
		Type:      ev.Type,
		Payload:   payload,
		Source:    ev.Source,
		CreatedAt: nowFunc(),
	}
	s.bySess[ev.SessionID] = append(s.bySess[ev.SessionID], row)
	return row, nil
}

// GetEvents returns events with seq > sinceSeq for the session, ascending.
func (s *Store) GetEvents(_ context.Context, sessionID string, sinceSeq int64, limit int) (event.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterPage(s.bySess[sessionID], "", sinceSeq, limit), nil
}

// GetEventsByRun additionally filters to a single run id.
func (s *Store) GetEventsByRun(_ context.Context, sessionID, runID string, sinceSeq int64, limit int) (event.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterPage(s.bySess[sessionID], runID, sinceSeq, limit), nil
}

func filterPage(all []event.SessionEvent, runID string, sinceSeq int64, limit int) event.Page {
	var out []event.SessionEvent
	for _, ev := range all {
		if ev.Seq <= sinceSeq {
			continue
		}
		if runID != "" && ev.RunID != runID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit+1 {
			return event.Page{Events: out[:limit], HasMore: true}
		}
	}
	return event.Page{Events: out, HasMore: false}
}
