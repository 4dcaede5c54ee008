// Package sql provides a relational (Postgres/SQLite) graph.Checkpointer
// backed by the graph_checkpoints table, selected via LANGGRAPH_CHECKPOINTER
// when it names either dialect rather than "memory".
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/siteforge-ai/core/features/sqlstore"
	"github.com/siteforge-ai/core/runtime/graph"
)

// Store implements graph.Checkpointer against a *sqlstore.DB.
type Store struct {
	db *sqlstore.DB
}

var _ graph.Checkpointer = (*Store)(nil)

// New wraps an already-opened database connection.
func New(db *sqlstore.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Put(ctx context.Context, cp graph.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return err
	}
	var interrupt []byte
	if cp.Interrupt != nil {
		if interrupt, err = json.Marshal(cp.Interrupt); err != nil {
			return err
		}
	}

	q := s.db.Rebind(`
		INSERT INTO graph_checkpoints (thread_id, state, next_node, interrupt, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET state = excluded.state, next_node = excluded.next_node,
			interrupt = excluded.interrupt, updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, q, cp.ThreadID, state, cp.NextNode, nullable(interrupt), nowFunc())
	return err
}

type row struct {
	ThreadID  string `db:"thread_id"`
	State     []byte `db:"state"`
	NextNode  string `db:"next_node"`
	Interrupt []byte `db:"interrupt"`
}

func (s *Store) Get(ctx context.Context, threadID string) (graph.Checkpoint, bool, error) {
	var r row
	q := s.db.Rebind(`SELECT thread_id, state, next_node, interrupt FROM graph_checkpoints WHERE thread_id = ?`)
	if err := s.db.GetContext(ctx, &r, q, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return graph.Checkpoint{}, false, nil
		}
		return graph.Checkpoint{}, false, err
	}

	cp := graph.Checkpoint{ThreadID: r.ThreadID, NextNode: r.NextNode}
	if err := json.Unmarshal(r.State, &cp.State); err != nil {
		return graph.Checkpoint{}, false, err
	}
	if len(r.Interrupt) > 0 {
		var interrupt graph.Interrupt
		if err := json.Unmarshal(r.Interrupt, &interrupt); err != nil {
			return graph.Checkpoint{}, false, err
		}
		cp.Interrupt = &interrupt
	}
	return cp, true, nil
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	q := s.db.Rebind(`DELETE FROM graph_checkpoints WHERE thread_id = ?`)
	_, err := s.db.ExecContext(ctx, q, threadID)
	return err
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// nowFunc is a seam so tests can freeze time.
var nowFunc = time.Now
