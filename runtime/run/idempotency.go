package run

import (
	"encoding/json"
	"sync"
	"time"
)

// idempotencyTTL is the retention window for cached Create/Resume responses.
const idempotencyTTL = 24 * time.Hour

// CachedResponse is what an idempotent replay returns instead of re-running
// the underlying operation.
type CachedResponse struct {
	Status int
	Body   json.RawMessage
}

type idempotencyKey struct {
	operation string
	targetID  string
	key       string
}

type idempotencyEntry struct {
	resp      CachedResponse
	expiresAt time.Time
}

// IdempotencyCache is a process-local TTL cache keyed by
// (operation, target_id, key). Entries expire lazily: a Get past its expiry
// is treated as a miss and the entry is dropped.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[idempotencyKey]idempotencyEntry
	now     func() time.Time
}

// NewIdempotencyCache builds an empty cache.
func NewIdempotencyCache() *IdempotencyCache {
	return &IdempotencyCache{
		entries: make(map[idempotencyKey]idempotencyEntry),
		now:     time.Now,
	}
}

// Get returns the cached response for (operation, targetID, key), if present
// and unexpired.
func (c *IdempotencyCache) Get(operation, targetID, key string) (CachedResponse, bool) {
	if key == "" {
		return CachedResponse{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := idempotencyKey{operation, targetID, key}
	entry, ok := c.entries[k]
	if !ok {
		return CachedResponse{}, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, k)
		return CachedResponse{}, false
	}
	return entry.resp, true
}

// Put stores resp under (operation, targetID, key) for idempotencyTTL.
func (c *IdempotencyCache) Put(operation, targetID, key string, resp CachedResponse) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[idempotencyKey{operation, targetID, key}] = idempotencyEntry{
		resp:      resp,
		expiresAt: c.now().Add(idempotencyTTL),
	}
}
