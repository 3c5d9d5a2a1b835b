package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"helga/helga-common/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockEventLogDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresEventLog) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewPostgresEventLog(db, logger)

	return db, mock, repo
}

func TestPostgresEventLog_EnsureSchema(t *testing.T) {
	db, mock, repo := setupMockEventLogDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS alert_log`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventLog_Append(t *testing.T) {
	db, mock, repo := setupMockEventLogDB(t)
	defer db.Close()

	e := entryAt("siren", 0, 0)
	mock.ExpectExec(`INSERT INTO alert_log`).
		WithArgs(e.Timestamp, "siren").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Append(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventLog_AppendDuplicate(t *testing.T) {
	db, mock, repo := setupMockEventLogDB(t)
	defer db.Close()

	e := entryAt("siren", 0, 0)
	mock.ExpectExec(`INSERT INTO alert_log`).
		WithArgs(e.Timestamp, "siren").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Append(context.Background(), e)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventLog_AppendFailure(t *testing.T) {
	db, mock, repo := setupMockEventLogDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO alert_log`).
		WillReturnError(errors.New("connection reset"))

	err := repo.Append(context.Background(), entryAt("siren", 0, 0))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateKey)
}

func TestPostgresEventLog_QueryAll(t *testing.T) {
	db, mock, repo := setupMockEventLogDB(t)
	defer db.Close()

	newer := entryAt("knock", 3, 0)
	older := entryAt("siren", 1, 0)
	rows := sqlmock.NewRows([]string{"logged_at", "message"}).
		AddRow(newer.Timestamp, newer.Message).
		AddRow(older.Timestamp, older.Message)
	mock.ExpectQuery(`SELECT logged_at, message\s+FROM alert_log\s+ORDER BY logged_at DESC`).
		WillReturnRows(rows)

	entries, err := repo.QueryAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.LogEntry{newer, older}, entries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventLog_QueryAllEmpty(t *testing.T) {
	db, mock, repo := setupMockEventLogDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{"logged_at", "message"}))

	entries, err := repo.QueryAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestPostgresEventLog_Delete(t *testing.T) {
	db, mock, repo := setupMockEventLogDB(t)
	defer db.Close()

	e := entryAt("siren", 0, 0)
	mock.ExpectExec(`DELETE FROM alert_log`).
		WithArgs(e.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM alert_log`).
		WithArgs(e.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), e.Timestamp))
	assert.ErrorIs(t, repo.Delete(context.Background(), e.Timestamp), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
