// Package sql provides a relational (Postgres/SQLite) implementation of
// event.Store. Sequence assignment happens inside a transaction scoped per
// session: Postgres takes a session-keyed advisory lock so a concurrent
// MAX(seq)+1 read never races another writer; SQLite's single-writer model
// (WAL + busy_timeout, configured by sqlstore.Open) gives the equivalent
// guarantee for free.
package sql

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jmoiron/sqlx"

	"github.com/siteforge-ai/core/features/sqlstore"
	"github.com/siteforge-ai/core/runtime/event"
	"github.com/siteforge-ai/core/runtime/ids"
)

// defaultLimit bounds unbounded page queries so a client that omits "limit"
// cannot force a full-session table scan.
const defaultLimit = 200

// Store implements event.Store against a *sqlstore.DB.
type Store struct {
	db *sqlstore.DB
}

var _ event.Store = (*Store)(nil)

// New wraps an already-opened database connection.
func New(db *sqlstore.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, ev event.NewEvent) (event.SessionEvent, error) {
	if ev.SessionID == "" {
		return event.SessionEvent{}, event.ErrInvalidSession
	}
	payload, err := event.MarshalPayload(ev.Payload)
	if err != nil {
		return event.SessionEvent{}, err
	}
	eventID := ev.EventID
	if eventID == "" {
		eventID = ids.New()
	}

	var row event.SessionEvent
	err = withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if s.db.Dialect == sqlstore.DialectPostgres {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`SELECT pg_advisory_xact_lock(?)`), sessionLockKey(ev.SessionID)); err != nil {
				return fmt.Errorf("event: acquire session lock: %w", err)
			}
		}
		var next int64
		q := tx.Rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = ?`)
		if err := tx.GetContext(ctx, &next, q, ev.SessionID); err != nil {
			return fmt.Errorf("event: next seq: %w", err)
		}
		row = event.SessionEvent{
			SessionID: ev.SessionID,
			Seq:       next,
			RunID:     ev.RunID,
			EventID:   eventID,
			Type:      ev.Type,
			Payload:   payload,
			Source:    ev.Source,
		}
		insert := tx.Rebind(`
			INSERT INTO session_events (session_id, seq, run_id, event_id, type, payload, source)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, insert,
			row.SessionID, row.Seq, row.RunID, row.EventID, string(row.Type), []byte(payload), string(row.Source))
		return err
	})
	if err != nil {
		return event.SessionEvent{}, err
	}
	q := s.db.Rebind(`SELECT created_at FROM session_events WHERE session_id = ? AND seq = ?`)
	if err := s.db.GetContext(ctx, &row.CreatedAt, q, row.SessionID, row.Seq); err != nil {
		return event.SessionEvent{}, fmt.Errorf("event: read created_at: %w", err)
	}
	return row, nil
}

func (s *Store) GetEvents(ctx context.Context, sessionID string, sinceSeq int64, limit int) (event.Page, error) {
	return s.query(ctx,
		`SELECT * FROM session_events WHERE session_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		limit, sessionID, sinceSeq)
}

func (s *Store) GetEventsByRun(ctx context.Context, sessionID, runID string, sinceSeq int64, limit int) (event.Page, error) {
	return s.query(ctx,
		`SELECT * FROM session_events WHERE session_id = ? AND run_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		limit, sessionID, runID, sinceSeq)
}

// query fetches one row beyond the requested limit so HasMore can be derived
// without a second round trip.
func (s *Store) query(ctx context.Context, query string, limit int, args ...any) (event.Page, error) {
	effective := limit
	if effective <= 0 {
		effective = defaultLimit
	}
	q := s.db.Rebind(query)
	var rows []event.SessionEvent
	if err := s.db.SelectContext(ctx, &rows, q, append(args, effective+1)...); err != nil {
		return event.Page{}, err
	}
	hasMore := len(rows) > effective
	if hasMore {
		rows = rows[:effective]
	}
	return event.Page{Events: rows, HasMore: hasMore}, nil
}

func sessionLockKey(sessionID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sessionID))
	return int64(h.Sum64())
}

func withTx(ctx context.Context, db *sqlstore.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
