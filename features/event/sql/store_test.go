package sql

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/siteforge-ai/core/features/sqlstore"
	"github.com/siteforge-ai/core/runtime/event"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := &sqlstore.DB{DB: sqlx.NewDb(mockDB, "sqlmock"), Dialect: sqlstore.DialectSQLite}
	return New(db), mock
}

func TestStore_Append_AssignsNextSeq(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) \+ 1 FROM session_events WHERE session_id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(3)))
	mock.ExpectExec(`INSERT INTO session_events`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT created_at FROM session_events WHERE session_id = \? AND seq = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	ev, err := store.Append(context.Background(), event.NewEvent{
		SessionID: "sess-1",
		Type:      event.TypeRunCreated,
		Source:    event.SourceSession,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), ev.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Append_RejectsBlankSessionID(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.Append(context.Background(), event.NewEvent{Type: event.TypeRunCreated})
	require.ErrorIs(t, err, event.ErrInvalidSession)
}

func TestStore_GetEvents_ReportsHasMoreBeyondLimit(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"session_id", "seq", "run_id", "event_id", "type", "payload", "source", "created_at",
	})
	for i := int64(1); i <= 3; i++ {
		rows.AddRow("sess-1", i, "", "evt", string(event.TypeRunCreated), []byte(`{}`), string(event.SourceSession), now)
	}
	mock.ExpectQuery(`SELECT \* FROM session_events WHERE session_id = \? AND seq > \? ORDER BY seq ASC LIMIT \?`).
		WillReturnRows(rows)

	page, err := store.GetEvents(context.Background(), "sess-1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.True(t, page.HasMore)
	require.NoError(t, mock.ExpectationsWereMet())
}
