// Package sql provides a relational (Postgres/SQLite) implementation of the
// three versioning.Store interfaces: ProductDocStore, PageVersionStore, and
// SnapshotStore. All three share one retention algorithm
// (runtime/versioning.Retention) and one transaction-scoped locking pattern
// for parent-scoped sequence assignment.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siteforge-ai/core/features/sqlstore"
	"github.com/siteforge-ai/core/runtime/apperr"
)

// DocStore implements versioning.ProductDocStore against a *sqlstore.DB.
type DocStore struct {
	db *sqlstore.DB
}

// NewDocStore wraps an already-opened database connection.
func NewDocStore(db *sqlstore.DB) *DocStore {
	return &DocStore{db: db}
}

// PageStore implements versioning.PageVersionStore against a *sqlstore.DB.
type PageStore struct {
	db *sqlstore.DB
}

// NewPageStore wraps an already-opened database connection.
func NewPageStore(db *sqlstore.DB) *PageStore {
	return &PageStore{db: db}
}

// SnapshotStore implements versioning.SnapshotStore against a *sqlstore.DB.
type SnapshotStore struct {
	db *sqlstore.DB
}

// NewSnapshotStore wraps an already-opened database connection.
func NewSnapshotStore(db *sqlstore.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
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

// lockSuffix returns " FOR UPDATE" on Postgres; SQLite has no row-level
// locking and relies on its single-writer WAL mode instead.
func lockSuffix(dialect sqlstore.Dialect) string {
	if dialect == sqlstore.DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.CategoryValidation, what+" not found")
	}
	return err
}

// isUniqueViolation recognizes the driver-specific spellings of a unique
// constraint violation, used by the snapshot-number retry loop.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// nowFunc is a testing seam for created_at/updated_at/released_at stamping.
var nowFunc = time.Now
