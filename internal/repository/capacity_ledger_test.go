package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

func newLedgerMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func classRow(enrolled, capacity int, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "track", "capacity", "enrolled_count", "active", "archived", "restricted_gender", "created_at", "updated_at"}).
		AddRow("class-1", "Intro", "INSTITUTE", capacity, enrolled, active, false, nil, time.Now(), time.Now())
}

func TestCapacityLedgerReserveTakesSeat(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	ledger := NewCapacityLedger(nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, track, capacity, enrolled_count, active, archived, restricted_gender, created_at, updated_at")).
		WithArgs("class-1").
		WillReturnRows(classRow(4, 5, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET enrolled_count = enrolled_count + $2, updated_at = $3 WHERE id = $1")).
		WithArgs("class-1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, ledger.Reserve(context.Background(), tx, "class-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCapacityLedgerReserveRejectsFullClass(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	ledger := NewCapacityLedger(nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, track, capacity, enrolled_count").
		WithArgs("class-1").
		WillReturnRows(classRow(5, 5, true))

	tx, err := db.Beginx()
	require.NoError(t, err)
	err = ledger.Reserve(context.Background(), tx, "class-1")
	require.True(t, appErrors.Is(err, appErrors.ErrClassFull))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCapacityLedgerReserveRejectsInactiveClass(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	ledger := NewCapacityLedger(nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, track, capacity, enrolled_count").
		WithArgs("class-1").
		WillReturnRows(classRow(0, 5, false))

	tx, err := db.Beginx()
	require.NoError(t, err)
	err = ledger.Reserve(context.Background(), tx, "class-1")
	require.True(t, appErrors.Is(err, appErrors.ErrClassInactive))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCapacityLedgerReserveUnknownClass(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	ledger := NewCapacityLedger(nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, track, capacity, enrolled_count").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	tx, err := db.Beginx()
	require.NoError(t, err)
	err = ledger.Reserve(context.Background(), tx, "missing")
	require.True(t, appErrors.Is(err, appErrors.ErrClassNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCapacityLedgerReleaseFreesSeat(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	ledger := NewCapacityLedger(nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, track, capacity, enrolled_count").
		WithArgs("class-1").
		WillReturnRows(classRow(3, 5, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET enrolled_count = enrolled_count + $2, updated_at = $3 WHERE id = $1")).
		WithArgs("class-1", -1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, ledger.Release(context.Background(), tx, "class-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCapacityLedgerReleaseRefusesUnderflow(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	ledger := NewCapacityLedger(nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, track, capacity, enrolled_count").
		WithArgs("class-1").
		WillReturnRows(classRow(0, 5, true))

	tx, err := db.Beginx()
	require.NoError(t, err)
	err = ledger.Release(context.Background(), tx, "class-1")
	require.True(t, appErrors.Is(err, appErrors.ErrInvariant))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCapacityLedgerReleaseAllowsFullClassToDrain(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()
	ledger := NewCapacityLedger(nil)

	// A full, inactive class can still release seats as students complete.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name, track, capacity, enrolled_count").
		WithArgs("class-1").
		WillReturnRows(classRow(5, 5, false))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET enrolled_count = enrolled_count + $2, updated_at = $3 WHERE id = $1")).
		WithArgs("class-1", -1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, ledger.Release(context.Background(), tx, "class-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
