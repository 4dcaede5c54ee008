package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyCache_HitAndMiss(t *testing.T) {
	t.Parallel()

	c := NewIdempotencyCache()
	_, ok := c.Get("run.create", "sess-1", "key-1")
	require.False(t, ok)

	c.Put("run.create", "sess-1", "key-1", CachedResponse{Status: 201, Body: []byte(`{"id":"run-1"}`)})
	resp, ok := c.Get("run.create", "sess-1", "key-1")
	require.True(t, ok)
	require.Equal(t, 201, resp.Status)
	require.JSONEq(t, `{"id":"run-1"}`, string(resp.Body))

	_, ok = c.Get("run.create", "sess-1", "key-2")
	require.False(t, ok)
}

func TestIdempotencyCache_ExpiresLazily(t *testing.T) {
	t.Parallel()

	c := NewIdempotencyCache()
	start := time.Now()
	c.now = func() time.Time { return start }
	c.Put("run.resume", "run-1", "key-1", CachedResponse{Status: 200})

	c.now = func() time.Time { return start.Add(25 * time.Hour) }
	_, ok := c.Get("run.resume", "run-1", "key-1")
	require.False(t, ok)
}

func TestIdempotencyCache_EmptyKeyNeverCaches(t *testing.T) {
	t.Parallel()

	c := NewIdempotencyCache()
	c.Put("run.create", "sess-1", "", CachedResponse{Status: 201})
	_, ok := c.Get("run.create", "sess-1", "")
	require.False(t, ok)
}
