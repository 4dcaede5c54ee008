// Package sql provides a relational (Postgres/SQLite) implementation of
// state.Store, backed by the session row's graph_state/build_status/
// build_artifacts/aesthetic_scores columns.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/siteforge-ai/core/features/sqlstore"
	"github.com/siteforge-ai/core/runtime/apperr"
	"github.com/siteforge-ai/core/runtime/state"
)

// Store implements state.Store against a *sqlstore.DB.
type Store struct {
	db *sqlstore.DB
}

var _ state.Store = (*Store)(nil)

// New wraps an already-opened database connection.
func New(db *sqlstore.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Save(ctx context.Context, st state.State) error {
	q := s.db.Rebind(`
		UPDATE sessions
		SET graph_state = ?, build_status = ?, build_artifacts = ?, aesthetic_scores = ?, updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q,
		[]byte(state.Scrub(st.GraphState)), string(st.BuildStatus), []byte(st.BuildArtifacts),
		[]byte(st.AestheticScores), nowFunc(), st.SessionID)
	if err != nil {
		return fmt.Errorf("state: save: %w", err)
	}
	return requireRowAffected(res)
}

func (s *Store) Load(ctx context.Context, sessionID string) (state.State, error) {
	var st state.State
	q := s.db.Rebind(`SELECT id AS session_id, graph_state, build_status, build_artifacts, aesthetic_scores, updated_at
		FROM sessions WHERE id = ?`)
	if err := s.db.GetContext(ctx, &st, q, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.State{}, apperr.New(apperr.CategoryValidation, "session not found")
		}
		return state.State{}, err
	}
	return st, nil
}

func (s *Store) UpdateMetadata(ctx context.Context, sessionID string, partial state.Metadata) error {
	sets := []string{"updated_at = ?"}
	args := []any{nowFunc()}
	if partial.GraphState != nil {
		sets = append(sets, "graph_state = ?")
		args = append(args, []byte(state.Scrub(partial.GraphState)))
	}
	if partial.BuildStatus != nil {
		sets = append(sets, "build_status = ?")
		args = append(args, string(*partial.BuildStatus))
	}
	if partial.BuildArtifacts != nil {
		sets = append(sets, "build_artifacts = ?")
		args = append(args, []byte(partial.BuildArtifacts))
	}
	if partial.AestheticScores != nil {
		sets = append(sets, "aesthetic_scores = ?")
		args = append(args, []byte(partial.AestheticScores))
	}
	args = append(args, sessionID)
	q := s.db.Rebind(fmt.Sprintf(`UPDATE sessions SET %s WHERE id = ?`, strings.Join(sets, ", ")))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("state: update metadata: %w", err)
	}
	return requireRowAffected(res)
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	q := s.db.Rebind(`
		UPDATE sessions
		SET graph_state = '{}', build_status = ?, build_artifacts = '{}', aesthetic_scores = '{}', updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, string(state.BuildStatusPending), nowFunc(), sessionID)
	if err != nil {
		return fmt.Errorf("state: clear: %w", err)
	}
	return requireRowAffected(res)
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.CategoryValidation, "session not found")
	}
	return nil
}

// nowFunc is a testing seam for updated_at stamping.
var nowFunc = time.Now
