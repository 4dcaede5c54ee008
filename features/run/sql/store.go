// Package sql provides a relational (Postgres/SQLite) implementation of
// run.Store: the Run state machine, idempotent Create/Resume, and the
// process-wide cancellation marker consumed by the scheduler and graph
// executor.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siteforge-ai/core/features/sqlstore"
	"github.com/siteforge-ai/core/runtime/apperr"
	"github.com/siteforge-ai/core/runtime/ids"
	"github.com/siteforge-ai/core/runtime/run"
)

// Store implements run.Store against a *sqlstore.DB.
type Store struct {
	db     *sqlstore.DB
	idem   *run.IdempotencyCache
	cancel *run.CancelSet
}

var _ run.Store = (*Store)(nil)

// New wraps an already-opened database connection. cancel is shared with the
// scheduler/graph executor so they observe cancellation without round
// tripping to the store.
func New(db *sqlstore.DB, cancel *run.CancelSet) *Store {
	return &Store{db: db, idem: run.NewIdempotencyCache(), cancel: cancel}
}

const opCreate = "run.create"
const opResume = "run.resume"

func (s *Store) Create(ctx context.Context, in run.New, idempotencyKey string) (run.Run, error) {
	if cached, ok := s.idem.Get(opCreate, in.SessionID, idempotencyKey); ok {
		var r run.Run
		if err := json.Unmarshal(cached.Body, &r); err != nil {
			return run.Run{}, err
		}
		return r, nil
	}

	id := ids.NewWithPrefix("run")
	r := run.Run{
		ID:               id,
		SessionID:        in.SessionID,
		ParentRunID:      in.ParentRunID,
		TriggerSource:    in.TriggerSource,
		Status:           run.StatusQueued,
		InputMessage:     in.InputMessage,
		CheckpointThread: run.CheckpointThreadID(in.SessionID, id),
		CheckpointNS:     in.CheckpointNS,
		Metrics:          json.RawMessage(`{}`),
	}
	q := s.db.Rebind(`
		INSERT INTO runs (id, session_id, parent_run_id, trigger_source, status, input_message,
			checkpoint_thread, checkpoint_ns, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q,
		r.ID, r.SessionID, nullable(r.ParentRunID), r.TriggerSource, string(r.Status),
		r.InputMessage, r.CheckpointThread, r.CheckpointNS, []byte(r.Metrics)); err != nil {
		return run.Run{}, fmt.Errorf("run: create: %w", err)
	}
	stored, err := s.Get(ctx, id)
	if err != nil {
		return run.Run{}, err
	}
	if body, err := json.Marshal(stored); err == nil {
		s.idem.Put(opCreate, in.SessionID, idempotencyKey, run.CachedResponse{Status: 201, Body: body})
	}
	return stored, nil
}

func (s *Store) Get(ctx context.Context, id string) (run.Run, error) {
	var r run.Run
	q := s.db.Rebind(`SELECT * FROM runs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run.Run{}, apperr.New(apperr.CategoryValidation, "run not found")
		}
		return run.Run{}, err
	}
	return r, nil
}

func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]run.Run, error) {
	var rows []run.Run
	q := s.db.Rebind(`SELECT * FROM runs WHERE session_id = ? ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &rows, q, sessionID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) GetLatestWaiting(ctx context.Context, sessionID string) (run.Run, error) {
	var r run.Run
	q := s.db.Rebind(`SELECT * FROM runs WHERE session_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &r, q, sessionID, string(run.StatusWaitingInput)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run.Run{}, apperr.New(apperr.CategoryStateConflict, "no waiting_input run for session")
		}
		return run.Run{}, err
	}
	return r, nil
}

func (s *Store) Start(ctx context.Context, id string) (run.Run, error) {
	return s.PersistState(ctx, id, run.StatusRunning, run.PersistFields{})
}

func (s *Store) Resume(ctx context.Context, sessionID, runID string, payload json.RawMessage, idempotencyKey string) (run.Run, error) {
	if runID == "" {
		waiting, err := s.GetLatestWaiting(ctx, sessionID)
		if err != nil {
			return run.Run{}, err
		}
		runID = waiting.ID
	}
	if cached, ok := s.idem.Get(opResume, runID, idempotencyKey); ok {
		var r run.Run
		if err := json.Unmarshal(cached.Body, &r); err != nil {
			return run.Run{}, err
		}
		return r, nil
	}

	var result run.Run
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		current, err := getForUpdate(ctx, tx, s.db.Dialect, runID)
		if err != nil {
			return err
		}
		if current.Status != run.StatusWaitingInput {
			return apperr.New(apperr.CategoryStateConflict, fmt.Sprintf("cannot resume run in status %s", current.Status))
		}
		q := tx.Rebind(`UPDATE runs SET status = ?, resume_payload = ?, updated_at = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, q, string(run.StatusRunning), []byte(payload), nowFunc(), runID); err != nil {
			return err
		}
		s.cancel.Clear(runID)
		return nil
	})
	if err != nil {
		return run.Run{}, err
	}
	result, err = s.Get(ctx, runID)
	if err != nil {
		return run.Run{}, err
	}
	if body, err := json.Marshal(result); err == nil {
		s.idem.Put(opResume, runID, idempotencyKey, run.CachedResponse{Status: 200, Body: body})
	}
	return result, nil
}

func (s *Store) Cancel(ctx context.Context, id string) (run.CancelOutcome, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return run.CancelOutcome{}, err
	}
	if run.IsTerminal(current.Status) {
		return run.CancelOutcome{Run: current, AlreadyTerminal: true}, nil
	}
	updated, err := s.PersistState(ctx, id, run.StatusCancelled, run.PersistFields{})
	if err != nil {
		return run.CancelOutcome{}, err
	}
	return run.CancelOutcome{Run: updated, AlreadyTerminal: false}, nil
}

func (s *Store) PersistState(ctx context.Context, id string, status run.Status, fields run.PersistFields) (run.Run, error) {
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		current, err := getForUpdate(ctx, tx, s.db.Dialect, id)
		if err != nil {
			return err
		}
		if !run.CanTransition(current.Status, status) {
			return apperr.New(apperr.CategoryStateConflict,
				fmt.Sprintf("illegal run transition %s -> %s", current.Status, status))
		}
		now := nowFunc()
		sets := []string{"status = ?", "updated_at = ?"}
		args := []any{string(status), now}
		if status == run.StatusRunning && current.StartedAt == nil {
			sets = append(sets, "started_at = ?")
			args = append(args, now)
		}
		if run.IsTerminal(status) && current.FinishedAt == nil {
			sets = append(sets, "finished_at = ?")
			args = append(args, now)
		}
		if fields.LatestError != nil {
			sets = append(sets, "latest_error = ?")
			args = append(args, []byte(fields.LatestError))
		}
		if fields.Metrics != nil {
			sets = append(sets, "metrics = ?")
			args = append(args, []byte(fields.Metrics))
		}
		args = append(args, id)
		q := tx.Rebind(fmt.Sprintf(`UPDATE runs SET %s WHERE id = ?`, strings.Join(sets, ", ")))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
		if status == run.StatusCancelled {
			s.cancel.Mark(id)
		} else if run.IsTerminal(status) {
			s.cancel.Clear(id)
		}
		return nil
	})
	if err != nil {
		return run.Run{}, err
	}
	return s.Get(ctx, id)
}

// ListStale finds runs sitting in status longer than olderThan, for a
// periodic janitor to reap (e.g. running runs whose worker died without
// transitioning them to a terminal status).
func (s *Store) ListStale(ctx context.Context, status run.Status, olderThan time.Duration) ([]run.Run, error) {
	var rows []run.Run
	q := s.db.Rebind(`SELECT * FROM runs WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC`)
	if err := s.db.SelectContext(ctx, &rows, q, string(status), nowFunc().Add(-olderThan)); err != nil {
		return nil, err
	}
	return rows, nil
}

// getForUpdate reads a run row, locking it against concurrent transitions on
// Postgres. SQLite has no row-level locking; its single-writer WAL mode
// (configured by sqlstore.Open) serializes concurrent writers instead.
func getForUpdate(ctx context.Context, tx *sqlx.Tx, dialect sqlstore.Dialect, id string) (run.Run, error) {
	query := `SELECT * FROM runs WHERE id = ?`
	if dialect == sqlstore.DialectPostgres {
		query += ` FOR UPDATE`
	}
	var r run.Run
	if err := tx.GetContext(ctx, &r, tx.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run.Run{}, apperr.New(apperr.CategoryValidation, "run not found")
		}
		return run.Run{}, err
	}
	return r, nil
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

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nowFunc is a testing seam for started_at/finished_at/updated_at stamping.
var nowFunc = time.Now
