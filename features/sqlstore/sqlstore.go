// Package sqlstore opens the core relational database connection used by
// every features/*/sql store and runs the embedded schema migrations. It is
// the single place that interprets DATABASE_URL and chooses between the
// Postgres (pgx) and SQLite (modernc.org/sqlite) drivers, mirroring how
// tarsy's pkg/database.NewClient centralizes driver selection and migration
// bootstrapping for its Ent client.
package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Dialect identifies which SQL dialect a *sqlx.DB speaks, since retention
// and snapshot-numbering SQL (SELECT ... FOR UPDATE, ON CONFLICT clauses)
// differs between Postgres and SQLite.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB wraps a *sqlx.DB with its resolved dialect.
type DB struct {
	*sqlx.DB
	Dialect Dialect
}

// Config controls pool sizing; zero values fall back to sane defaults.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open parses cfg.URL, connects with the matching driver, applies SQLite
// pragmas when applicable, and runs pending migrations.
//
// Accepted schemes: "postgres://", "postgresql://" (Postgres via pgx) and
// "sqlite://" or "file:" (SQLite via modernc.org/sqlite, pure Go, no cgo).
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dialect, driver, dsn, err := resolve(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if dialect == DialectSQLite {
		// WAL + a busy timeout let the retention/snapshot transactions below
		// coexist with concurrent readers without "database is locked" churn.
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
			return nil, fmt.Errorf("sqlstore: set WAL: %w", err)
		}
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000;`); err != nil {
			return nil, fmt.Errorf("sqlstore: set busy_timeout: %w", err)
		}
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON;`); err != nil {
			return nil, fmt.Errorf("sqlstore: enable foreign_keys: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if err := runMigrations(db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

func resolve(rawURL string) (Dialect, string, string, error) {
	switch {
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return DialectPostgres, "pgx", rawURL, nil
	case strings.HasPrefix(rawURL, "sqlite://"):
		return DialectSQLite, "sqlite", strings.TrimPrefix(rawURL, "sqlite://"), nil
	case strings.HasPrefix(rawURL, "file:"):
		return DialectSQLite, "sqlite", rawURL, nil
	default:
		return "", "", "", fmt.Errorf("sqlstore: unsupported DATABASE_URL scheme: %s", rawURL)
	}
}

func runMigrations(db *sqlx.DB, dialect Dialect) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("sqlstore: migration source: %w", err)
	}
	var dbDriver migrate.Database
	switch dialect {
	case DialectPostgres:
		dbDriver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case DialectSQLite:
		dbDriver, err = sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	}
	if err != nil {
		return fmt.Errorf("sqlstore: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(dialect), dbDriver)
	if err != nil {
		return fmt.Errorf("sqlstore: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("sqlstore: apply migrations: %w", err)
	}
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("sqlstore: close migration source: %w", err)
	}
	return nil
}
