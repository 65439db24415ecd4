package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

func newTxRunnerMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTxRunnerCommitsOnSuccess(t *testing.T) {
	db, mock, cleanup := newTxRunnerMock(t)
	defer cleanup()
	runner := NewTxRunner(db, TxRunnerConfig{}, nil)

	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := runner.Serializable(context.Background(), func(tx *sqlx.Tx) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRunnerRetriesSerializationFailure(t *testing.T) {
	db, mock, cleanup := newTxRunnerMock(t)
	defer cleanup()

	retries := 0
	runner := NewTxRunner(db, TxRunnerConfig{
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		OnRetry:     func() { retries++ },
	}, nil)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := runner.Serializable(context.Background(), func(tx *sqlx.Tx) error {
		calls++
		if calls == 1 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, retries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRunnerSurfacesBusyAfterExhaustion(t *testing.T) {
	db, mock, cleanup := newTxRunnerMock(t)
	defer cleanup()
	runner := NewTxRunner(db, TxRunnerConfig{MaxAttempts: 2, RetryDelay: time.Millisecond}, nil)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := runner.Serializable(context.Background(), func(tx *sqlx.Tx) error {
		return &pq.Error{Code: "40P01"}
	})
	require.True(t, appErrors.Is(err, appErrors.ErrBusy))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRunnerDomainErrorRollsBackWithoutRetry(t *testing.T) {
	db, mock, cleanup := newTxRunnerMock(t)
	defer cleanup()
	runner := NewTxRunner(db, TxRunnerConfig{MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := runner.Serializable(context.Background(), func(tx *sqlx.Tx) error {
		calls++
		return appErrors.ErrClassFull
	})
	require.True(t, appErrors.Is(err, appErrors.ErrClassFull))
	require.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}
