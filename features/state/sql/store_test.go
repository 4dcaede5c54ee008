package sql

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/siteforge-ai/core/features/sqlstore"
	"github.com/siteforge-ai/core/runtime/state"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := &sqlstore.DB{DB: sqlx.NewDb(mockDB, "sqlmock"), Dialect: sqlstore.DialectSQLite}
	return New(db), mock
}

func TestStore_Save_UpdatesSessionRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE sessions`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), state.State{
		SessionID:   "sess-1",
		GraphState:  []byte(`{"pages":["index"]}`),
		BuildStatus: state.BuildStatusSuccess,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Save_NoMatchingSessionReturnsError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE sessions`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Save(context.Background(), state.State{SessionID: "missing"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Load_ReturnsSessionState(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT id AS session_id, graph_state, build_status, build_artifacts, aesthetic_scores, updated_at`).
		WillReturnRows(sqlmock.NewRows([]string{
			"session_id", "graph_state", "build_status", "build_artifacts", "aesthetic_scores", "updated_at",
		}).AddRow("sess-1", []byte(`{}`), string(state.BuildStatusPending), []byte(`{}`), []byte(`{}`), now))

	st, err := store.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", st.SessionID)
	require.Equal(t, state.BuildStatusPending, st.BuildStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Clear_ResetsSessionRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE sessions`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Clear(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
