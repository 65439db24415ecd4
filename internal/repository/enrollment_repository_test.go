package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/enrollment-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func enrollmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "student_id", "class_id", "status", "created_at", "completed_at", "cancelled_at", "transferred_from_class_id"})
}

func TestEnrollmentRepositoryHistoryByStudentAndTrack(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := enrollmentRows().
		AddRow("enr-2", "stu-1", "class-2", models.EnrollmentStatusActive, time.Now(), nil, nil, nil).
		AddRow("enr-1", "stu-1", "class-1", models.EnrollmentStatusCancelled, time.Now().Add(-time.Hour), nil, ptrTime(time.Now()), nil)
	mock.ExpectQuery("SELECT e.id, e.student_id, e.class_id, e.status, e.created_at, e.completed_at, e.cancelled_at, e.transferred_from_class_id").
		WithArgs("stu-1", models.TrackInstitute).
		WillReturnRows(rows)

	history, err := repo.HistoryByStudentAndTrack(context.Background(), "stu-1", models.TrackInstitute)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.EnrollmentStatusActive, history[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindTransferFollowUpMissing(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("SELECT id, student_id, class_id, status").
		WithArgs("stu-1", "class-1", sqlmock.AnyArg()).
		WillReturnRows(enrollmentRows())

	followUp, err := repo.FindTransferFollowUp(context.Background(), "stu-1", "class-1", time.Now())
	require.NoError(t, err)
	require.Nil(t, followUp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryHasActiveAnywhere(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND status = $2 LIMIT 1")).
		WithArgs("stu-1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	active, err := repo.HasActiveAnywhere(context.Background(), "stu-1")
	require.NoError(t, err)
	require.True(t, active)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND status = $2 LIMIT 1")).
		WithArgs("stu-2", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	active, err = repo.HasActiveAnywhere(context.Background(), "stu-2")
	require.NoError(t, err)
	require.False(t, active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindByStudentAndClassTxMissing(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, student_id, class_id, status.*FOR UPDATE").
		WithArgs("stu-1", "class-1").
		WillReturnRows(enrollmentRows())

	tx, err := db.Beginx()
	require.NoError(t, err)
	enrollment, err := repo.FindByStudentAndClassTx(context.Background(), tx, "stu-1", "class-1")
	require.NoError(t, err)
	require.Nil(t, enrollment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsInTrackTx(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM enrollments e JOIN classes c ON c.id = e.class_id").
		WithArgs("stu-1", models.TrackChurch, models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	tx, err := db.Beginx()
	require.NoError(t, err)
	exists, err := repo.ExistsInTrackTx(context.Background(), tx, "stu-1", models.TrackChurch, models.EnrollmentStatusActive, "")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsInTrackTxExcludesRow(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`AND e\.id <> \$4`).
		WithArgs("stu-1", models.TrackChurch, models.EnrollmentStatusActive, "enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	tx, err := db.Beginx()
	require.NoError(t, err)
	exists, err := repo.ExistsInTrackTx(context.Background(), tx, "stu-1", models.TrackChurch, models.EnrollmentStatusActive, "enr-1")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateTxAssignsDefaults(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Beginx()
	require.NoError(t, err)
	enrollment := &models.Enrollment{StudentID: "stu-1", ClassID: "class-1"}
	require.NoError(t, repo.CreateTx(context.Background(), tx, enrollment))
	require.NotEmpty(t, enrollment.ID)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.False(t, enrollment.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateStatusTxStampsTimestamps(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, completed_at = $3 WHERE id = $1")).
		WithArgs("enr-1", models.EnrollmentStatusCompleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, cancelled_at = $3 WHERE id = $1")).
		WithArgs("enr-2", models.EnrollmentStatusCancelled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1")).
		WithArgs("enr-3", models.EnrollmentStatusTransferred).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Beginx()
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, repo.UpdateStatusTx(context.Background(), tx, "enr-1", models.EnrollmentStatusCompleted, now))
	require.NoError(t, repo.UpdateStatusTx(context.Background(), tx, "enr-2", models.EnrollmentStatusCancelled, now))
	require.NoError(t, repo.UpdateStatusTx(context.Background(), tx, "enr-3", models.EnrollmentStatusTransferred, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryReactivateTxClearsTerminalState(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	from := "class-0"
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollments").
		WithArgs("enr-1", models.EnrollmentStatusActive, "class-0", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, repo.ReactivateTx(context.Background(), tx, "enr-1", &from))
	require.NoError(t, mock.ExpectationsWereMet())
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
