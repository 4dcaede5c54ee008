package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestPostgres starts a throwaway Postgres container and returns a
// connection URL, in the shape codeready-toolchain-tarsy's
// pkg/database/client_test.go uses for its own Ent-backed client tests.
func newTestPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("core_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// TestOpen_Postgres_RunsMigrations confirms Open resolves the pgx driver and
// leaves every table the embedded migrations declare (runs, run state,
// events, checkpoints, versioning) queryable.
func TestOpen_Postgres_RunsMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker")
	}

	url := newTestPostgres(t)
	db, err := Open(context.Background(), Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.Equal(t, DialectPostgres, db.Dialect)

	for _, table := range []string{"runs", "sessions", "session_events", "graph_checkpoints"} {
		var exists bool
		err := db.Get(&exists, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table)
		require.NoError(t, err)
		require.Truef(t, exists, "expected migrations to create table %q", table)
	}
}

// TestOpen_Postgres_IsIdempotent confirms a second Open against the same
// database (e.g. a rolling restart racing cmd/migrate) does not re-apply or
// fail on already-applied migrations.
func TestOpen_Postgres_IsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker")
	}

	url := newTestPostgres(t)
	first, err := Open(context.Background(), Config{URL: url})
	require.NoError(t, err)
	_ = first.Close()

	second, err := Open(context.Background(), Config{URL: url})
	require.NoError(t, err)
	_ = second.Close()
}
