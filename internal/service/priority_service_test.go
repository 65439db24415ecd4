package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/enrollment-api/internal/models"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

type priorityStudentStub struct {
	students map[string]*models.Student
	setCalls int
	cleared  int
}

func (s *priorityStudentStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (s *priorityStudentStub) SetPriority(ctx context.Context, studentID, classID string, since time.Time) error {
	s.setCalls++
	student := s.students[studentID]
	student.PriorityListed = true
	student.PriorityClassID = &classID
	student.PrioritySince = &since
	return nil
}

func (s *priorityStudentStub) ClearPriority(ctx context.Context, studentID string) error {
	s.cleared++
	student := s.students[studentID]
	student.PriorityListed = false
	student.PriorityClassID = nil
	student.PrioritySince = nil
	return nil
}

type activeCheckStub struct {
	active bool
}

func (s *activeCheckStub) HasActiveAnywhere(ctx context.Context, studentID string) (bool, error) {
	return s.active, nil
}

func newPriorityFixture(active bool) (*PriorityService, *priorityStudentStub) {
	students := &priorityStudentStub{students: map[string]*models.Student{
		"stu-1": {ID: "stu-1", FullName: "Ana Silva", Active: true},
	}}
	classes := &classStoreStub{classes: map[string]*models.Class{
		"class-1": {ID: "class-1", Name: "Alpha", Track: models.TrackChurch, Capacity: 5, Active: true},
	}}
	svc := NewPriorityService(students, &activeCheckStub{active: active}, classes, nil, nil)
	return svc, students
}

func TestPriorityServiceAddMarksStudent(t *testing.T) {
	svc, students := newPriorityFixture(false)

	student, err := svc.AddToPriorityList(context.Background(), "stu-1", PriorityRequest{ClassID: "class-1"})
	require.NoError(t, err)
	assert.True(t, student.PriorityListed)
	require.NotNil(t, student.PriorityClassID)
	assert.Equal(t, "class-1", *student.PriorityClassID)
	assert.Equal(t, 1, students.setCalls)
}

func TestPriorityServiceAddRejectsActivelyEnrolled(t *testing.T) {
	svc, students := newPriorityFixture(true)

	_, err := svc.AddToPriorityList(context.Background(), "stu-1", PriorityRequest{ClassID: "class-1"})
	require.True(t, appErrors.Is(err, appErrors.ErrAlreadyEnrolled))
	assert.Zero(t, students.setCalls)
}

func TestPriorityServiceAddUnknownStudent(t *testing.T) {
	svc, _ := newPriorityFixture(false)

	_, err := svc.AddToPriorityList(context.Background(), "missing", PriorityRequest{ClassID: "class-1"})
	require.True(t, appErrors.Is(err, appErrors.ErrStudentNotFound))
}

func TestPriorityServiceAddUnknownClass(t *testing.T) {
	svc, _ := newPriorityFixture(false)

	_, err := svc.AddToPriorityList(context.Background(), "stu-1", PriorityRequest{ClassID: "missing"})
	require.True(t, appErrors.Is(err, appErrors.ErrClassNotFound))
}

func TestPriorityServiceRemoveClearsMarker(t *testing.T) {
	svc, students := newPriorityFixture(false)
	classID := "class-1"
	now := time.Now()
	students.students["stu-1"].PriorityListed = true
	students.students["stu-1"].PriorityClassID = &classID
	students.students["stu-1"].PrioritySince = &now

	student, err := svc.RemoveFromPriorityList(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.False(t, student.PriorityListed)
	assert.Nil(t, student.PriorityClassID)
	assert.Equal(t, 1, students.cleared)
}
