package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/opencourse/enrollment-api/internal/models"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

type eligibilityEnrollmentReader interface {
	HistoryByStudentAndTrack(ctx context.Context, studentID string, track models.Track) ([]models.Enrollment, error)
	FindTransferFollowUp(ctx context.Context, studentID, fromClassID string, after time.Time) (*models.Enrollment, error)
}

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

// EligibilityService evaluates enrollment preconditions on the read path. It
// never mutates state and is safe to call repeatedly and concurrently; the
// capacity check here is advisory, the ledger re-checks it at write time.
type EligibilityService struct {
	enrollments eligibilityEnrollmentReader
	students    studentReader
	classes     classReader
	logger      *zap.Logger
}

// NewEligibilityService constructs the validator.
func NewEligibilityService(enrollments eligibilityEnrollmentReader, students studentReader, classes classReader, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{enrollments: enrollments, students: students, classes: classes, logger: logger}
}

// Check evaluates whether the student may enroll in the target class,
// short-circuiting on the first applicable reason. Errors are returned only
// for infrastructure failures; business outcomes live in the result.
func (s *EligibilityService) Check(ctx context.Context, studentID, classID string) (*models.EligibilityResult, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return &models.EligibilityResult{Reason: models.ReasonStudentNotFound}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return &models.EligibilityResult{Reason: models.ReasonClassNotFound}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !class.AcceptsEnrollments() {
		return &models.EligibilityResult{Reason: models.ReasonClassInactive}, nil
	}
	if class.RestrictedGender != nil && *class.RestrictedGender != student.Gender {
		return &models.EligibilityResult{Reason: models.ReasonGenderRestricted}, nil
	}
	if class.EnrolledCount >= class.Capacity {
		return &models.EligibilityResult{Reason: models.ReasonClassFull}, nil
	}

	history, err := s.enrollments.HistoryByStudentAndTrack(ctx, studentID, class.Track)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment history")
	}

	var priorCancelledAt *time.Time
	for _, record := range history {
		switch record.Status {
		case models.EnrollmentStatusActive:
			return &models.EligibilityResult{
				Reason:                  models.ReasonAlreadyActiveInTrack,
				ConflictingEnrollmentID: record.ID,
			}, nil
		case models.EnrollmentStatusCompleted:
			return &models.EligibilityResult{
				Reason:      models.ReasonAlreadyCompleted,
				CompletedAt: record.CompletedAt,
			}, nil
		case models.EnrollmentStatusCancelled:
			if priorCancelledAt == nil {
				priorCancelledAt = record.CancelledAt
			}
		case models.EnrollmentStatusTransferred:
			// Inconclusive on its own: walk forward to the record the
			// transfer produced and apply the active-record rule to it.
			followUp, err := s.enrollments.FindTransferFollowUp(ctx, studentID, record.ClassID, record.CreatedAt)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve transfer lineage")
			}
			if followUp != nil && followUp.Status == models.EnrollmentStatusActive {
				return &models.EligibilityResult{
					Reason:                  models.ReasonAlreadyActiveInTrack,
					ConflictingEnrollmentID: followUp.ID,
				}, nil
			}
		}
	}

	if priorCancelledAt != nil {
		return &models.EligibilityResult{
			Eligible:             true,
			RequiresConfirmation: true,
			PriorCancelledAt:     priorCancelledAt,
		}, nil
	}
	return &models.EligibilityResult{Eligible: true}, nil
}
