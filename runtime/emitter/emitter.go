// Package emitter implements the in-process event bus sitting between the
// Graph Executor / Parallel Executor and the SSE delivery layer. It durably
// writes through to the Event Store and buffers every event in memory so a
// caller can drain "what's new since index N" without touching the store.
package emitter

import (
	"context"
	"sync"

	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/telemetry"
)

// Publisher receives a best-effort, cross-process fan-out of every event
// this Emitter stores, on top of its durable write and in-process buffer.
// features/emitter/redis.Bus is the production implementation; a deployment
// with a single replica has no need for one.
type Publisher interface {
	Publish(ctx context.Context, ev event.SessionEvent) error
}

// Emitter fans out session events to in-process listeners while persisting
// them through the Event Store.
type Emitter struct {
	mu        sync.Mutex
	store     event.Store
	logger    telemetry.Logger
	buf       []event.SessionEvent
	publisher Publisher
}

// New builds an Emitter backed by store. A nil logger falls back to a noop.
func New(store event.Store, logger telemetry.Logger) *Emitter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Emitter{store: store, logger: logger}
}

// WithPublisher attaches a cross-process Publisher, returning e for chaining
// at construction time. Passing nil restores in-process-only delivery.
func (e *Emitter) WithPublisher(p Publisher) *Emitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = p
	return e
}

// Emit durably appends ev and buffers it for in-process listeners. If the
// store write fails, the event is still buffered (with a zero Seq, the
// caller already knows it's not durable from the returned error) and the
// failure is logged rather than dropped.
func (e *Emitter) Emit(ctx context.Context, ev event.NewEvent) (event.SessionEvent, error) {
	stored, err := e.store.Append(ctx, ev)
	if err != nil {
		e.logger.Error(ctx, "emitter: durable write failed", "session_id", ev.SessionID, "type", ev.Type, "error", err)
		stored = event.SessionEvent{
			SessionID: ev.SessionID,
			RunID:     ev.RunID,
			EventID:   ev.EventID,
			Type:      ev.Type,
			Source:    ev.Source,
		}
	}
	e.mu.Lock()
	e.buf = append(e.buf, stored)
	publisher := e.publisher
	e.mu.Unlock()

	if publisher != nil {
		if pubErr := publisher.Publish(ctx, stored); pubErr != nil {
			e.logger.Warn(ctx, "emitter: cross-process publish failed", "session_id", ev.SessionID, "error", pubErr)
		}
	}
	return stored, err
}

// EventsSince returns every buffered event after index, plus the index a
// subsequent call should pass to continue draining.
func (e *Emitter) EventsSince(index int) ([]event.SessionEvent, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index > len(e.buf) {
		index = 0
	}
	out := make([]event.SessionEvent, len(e.buf)-index)
	copy(out, e.buf[index:])
	return out, len(e.buf)
}
