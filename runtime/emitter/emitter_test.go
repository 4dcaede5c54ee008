package emitter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siteforge-ai/core/runtime/event"
)

type fakeStore struct {
	appendErr error
	appended  []event.NewEvent
}

func (f *fakeStore) Append(ctx context.Context, ev event.NewEvent) (event.SessionEvent, error) {
	f.appended = append(f.appended, ev)
	if f.appendErr != nil {
		return event.SessionEvent{}, f.appendErr
	}
	return event.SessionEvent{SessionID: ev.SessionID, Seq: int64(len(f.appended)), Type: ev.Type}, nil
}

func (f *fakeStore) GetEvents(ctx context.Context, sessionID string, sinceSeq int64, limit int) (event.Page, error) {
	return event.Page{}, nil
}

func (f *fakeStore) GetEventsByRun(ctx context.Context, sessionID, runID string, sinceSeq int64, limit int) (event.Page, error) {
	return event.Page{}, nil
}

func TestEmit_BuffersAndPersists(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	e := New(store, nil)

	stored, err := e.Emit(context.Background(), event.NewEvent{SessionID: "s1", Type: event.TypeRunCreated})
	require.NoError(t, err)
	require.EqualValues(t, 1, stored.Seq)

	events, next := e.EventsSince(0)
	require.Len(t, events, 1)
	require.Equal(t, 1, next)
}

func TestEmit_SurvivesStoreFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{appendErr: errors.New("db down")}
	e := New(store, nil)

	_, err := e.Emit(context.Background(), event.NewEvent{SessionID: "s1", Type: event.TypeTaskStarted})
	require.Error(t, err)

	events, _ := e.EventsSince(0)
	require.Len(t, events, 1)
}

func TestEventsSince_DrainsIncrementally(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	e := New(store, nil)

	_, _ = e.Emit(context.Background(), event.NewEvent{SessionID: "s1", Type: event.TypeRunCreated})
	_, next := e.EventsSince(0)
	_, _ = e.Emit(context.Background(), event.NewEvent{SessionID: "s1", Type: event.TypeRunStarted})

	events, next2 := e.EventsSince(next)
	require.Len(t, events, 1)
	require.Equal(t, event.TypeRunStarted, events[0].Type)
	require.Equal(t, 2, next2)
}
