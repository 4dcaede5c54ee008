// Package redis fans session events out across process boundaries with
// Redis pub/sub, giving the `github.com/redis/go-redis/v9` dependency a
// concrete home: a deployment running more than one `cmd/server` replica
// needs some way for an SSE stream served by replica B to notice an event a
// run driven by replica A just emitted, without every replica polling the
// Event Store more aggressively. The Event Store remains the durable,
// authoritative log (spec invariant 1); this bus is a best-effort shortcut
// on top of it, not a replacement for it.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/siteforge-ai/core/runtime/emitter"
	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/telemetry"
)

const defaultChannelPrefix = "siteforge:events:"

// Bus publishes and subscribes to per-session Redis channels. It implements
// runtime/emitter.Publisher, so runtime/emitter.Emitter.WithPublisher(bus)
// is how a deployment wires it in.
type Bus struct {
	client *goredis.Client
	prefix string
	logger telemetry.Logger
}

var _ emitter.Publisher = (*Bus)(nil)

// New builds a Bus over an already-connected client. A blank prefix falls
// back to "siteforge:events:"; a nil logger falls back to a noop.
func New(client *goredis.Client, prefix string, logger telemetry.Logger) *Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &Bus{client: client, prefix: prefix, logger: logger}
}

func (b *Bus) channel(sessionID string) string { return b.prefix + sessionID }

// Publish broadcasts ev to every current subscriber of its session's
// channel. Publish failures are logged and returned but never block or
// retry: a dropped cross-process notification is recovered by the SSE
// layer's own store poll, which still sees the durably written event.
func (b *Bus) Publish(ctx context.Context, ev event.SessionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("emitter/redis: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(ev.SessionID), payload).Err(); err != nil {
		b.logger.Warn(ctx, "emitter/redis: publish failed", "session_id", ev.SessionID, "error", err)
		return fmt.Errorf("emitter/redis: publish: %w", err)
	}
	return nil
}

// Subscribe opens a subscription to sessionID's channel. The returned
// channel closes once ctx is cancelled or the returned unsubscribe func
// runs; callers should still fall back to GetEventsByRun polling, since
// pub/sub delivery is best-effort — a subscriber not yet listening at
// publish time simply never receives that message.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan event.SessionEvent, func(), error) {
	sub := b.client.Subscribe(ctx, b.channel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("emitter/redis: subscribe: %w", err)
	}

	out := make(chan event.SessionEvent, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev event.SessionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn(ctx, "emitter/redis: decode message failed", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
