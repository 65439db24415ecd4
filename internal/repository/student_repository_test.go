package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newStudentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestStudentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "full_name", "gender", "phone", "active", "priority_listed", "priority_class_id", "priority_since", "created_at", "updated_at"}).
		AddRow("stu-1", "Ana Silva", "F", "", true, false, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, full_name, gender, phone, active, priority_listed").
		WithArgs("stu-1").
		WillReturnRows(rows)

	student, err := repo.FindByID(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Equal(t, "Ana Silva", student.FullName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositorySetPriority(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	since := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET priority_listed = TRUE, priority_class_id = $2, priority_since = $3, updated_at = $3 WHERE id = $1")).
		WithArgs("stu-1", "class-1", since).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetPriority(context.Background(), "stu-1", "class-1", since))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryClearPriority(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET priority_listed = FALSE, priority_class_id = NULL, priority_since = NULL, updated_at = $2 WHERE id = $1")).
		WithArgs("stu-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ClearPriority(context.Background(), "stu-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
