package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opencourse/enrollment-api/internal/models"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

type priorityStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	SetPriority(ctx context.Context, studentID, classID string, since time.Time) error
	ClearPriority(ctx context.Context, studentID string) error
}

type activeEnrollmentChecker interface {
	HasActiveAnywhere(ctx context.Context, studentID string) (bool, error)
}

// PriorityRequest names the class the student is waiting for.
type PriorityRequest struct {
	ClassID string `json:"class_id" validate:"required"`
}

// PriorityService maintains the waitlist marker on a student. The marker is
// mutually exclusive with holding any active enrollment; registering a
// prioritized student does not clear it, that stays a caller decision.
type PriorityService struct {
	students    priorityStudentRepository
	enrollments activeEnrollmentChecker
	classes     classReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewPriorityService constructs PriorityService.
func NewPriorityService(students priorityStudentRepository, enrollments activeEnrollmentChecker, classes classReader, validate *validator.Validate, logger *zap.Logger) *PriorityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriorityService{students: students, enrollments: enrollments, classes: classes, validator: validate, logger: logger}
}

// AddToPriorityList places the student on the waitlist for a class.
func (s *PriorityService) AddToPriorityList(ctx context.Context, studentID string, req PriorityRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid priority payload")
	}

	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if _, err := s.classes.FindByID(ctx, req.ClassID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	active, err := s.enrollments.HasActiveAnywhere(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active enrollments")
	}
	if active {
		return nil, appErrors.ErrAlreadyEnrolled
	}

	if err := s.students.SetPriority(ctx, studentID, req.ClassID, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set priority marker")
	}
	return s.students.FindByID(ctx, studentID)
}

// RemoveFromPriorityList clears the waitlist marker.
func (s *PriorityService) RemoveFromPriorityList(ctx context.Context, studentID string) (*models.Student, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if err := s.students.ClearPriority(ctx, studentID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear priority marker")
	}
	return s.students.FindByID(ctx, studentID)
}
