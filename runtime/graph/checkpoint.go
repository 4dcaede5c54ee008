package graph

import "context"

// Checkpoint is the persisted record a Checkpointer stores for one thread:
// the state as of the last completed or parked node, which node runs next,
// and the pending interrupt if the run is parked.
type Checkpoint struct {
	ThreadID  string     `json:"thread_id"`
	State     State      `json:"state"`
	NextNode  string     `json:"next_node"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
}

// Checkpointer is the narrow "put/get state for a thread id" persistence
// contract spec §6 requires independent of which Engine adapter is active.
// Concrete backends live under features/graph/checkpoint/{memory,sql}; the
// sql backend serves both Postgres and SQLite.
type Checkpointer interface {
	Put(ctx context.Context, cp Checkpoint) error
	Get(ctx context.Context, threadID string) (Checkpoint, bool, error)
	Delete(ctx context.Context, threadID string) error
}
