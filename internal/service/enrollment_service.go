package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opencourse/enrollment-api/internal/models"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrollment, error)
	FindByStudentAndClassTx(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.Enrollment, error)
	ExistsInTrackTx(ctx context.Context, tx *sqlx.Tx, studentID string, track models.Track, status models.EnrollmentStatus, excludeID string) (bool, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrollmentStatus, at time.Time) error
	ReactivateTx(ctx context.Context, tx *sqlx.Tx, id string, transferredFromClassID *string) error
}

type capacityLedger interface {
	Lock(ctx context.Context, tx *sqlx.Tx, classID string) (*models.Class, error)
	Reserve(ctx context.Context, tx *sqlx.Tx, classID string) error
	Release(ctx context.Context, tx *sqlx.Tx, classID string) error
}

type txRunner interface {
	Serializable(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type transferNotifier interface {
	NotifyEnrolled(studentID string, class models.ClassSummary)
	NotifyTransfer(studentID string, oldClass, newClass models.ClassSummary)
}

type operationRecorder interface {
	RecordEnrollmentOperation(operation, outcome string)
	RecordCapacityConflict(classID string)
}

// RegisterRequest describes an initial registration.
type RegisterRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ClassID   string `json:"class_id" validate:"required"`
}

// TransferRequest describes a same-track transfer or cross-track change.
type TransferRequest struct {
	StudentID     string `json:"student_id" validate:"required"`
	TargetClassID string `json:"target_class_id" validate:"required"`
}

// EnrollmentService orchestrates the enrollment lifecycle. Every mutating
// operation runs as a single serializable transaction pairing the status
// change with its capacity ledger adjustment, so "old closed + new opened +
// counts adjusted" can never be observed half-done. Notifications go out
// after commit and never affect the outcome.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	ledger    capacityLedger
	tx        txRunner
	notifier  transferNotifier
	metrics   operationRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService. notifier and metrics may
// be nil.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, ledger capacityLedger, tx txRunner, notifier transferNotifier, metrics operationRecorder, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, ledger: ledger, tx: tx, notifier: notifier, metrics: metrics, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Get returns a single enrollment with context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Register creates an active enrollment for the student in the class. All
// eligibility conditions are re-verified under the transaction; the read-side
// validator only exists to fail fast.
func (s *EnrollmentService) Register(ctx context.Context, req RegisterRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	var enrollmentID string
	var notifyClass *models.ClassSummary
	err = s.tx.Serializable(ctx, func(tx *sqlx.Tx) error {
		class, err := s.ledger.Lock(ctx, tx, req.ClassID)
		if err != nil {
			return err
		}
		if !class.AcceptsEnrollments() {
			return appErrors.ErrClassInactive
		}
		if class.RestrictedGender != nil && *class.RestrictedGender != student.Gender {
			return appErrors.ErrGenderRestricted
		}

		existing, err := s.repo.FindByStudentAndClassTx(ctx, tx, req.StudentID, req.ClassID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == models.EnrollmentStatusActive {
			// Duplicate request: no second seat is reserved.
			enrollmentID = existing.ID
			return nil
		}
		if existing != nil && existing.Status == models.EnrollmentStatusCompleted {
			return appErrors.ErrAlreadyCompleted
		}

		if active, err := s.repo.ExistsInTrackTx(ctx, tx, req.StudentID, class.Track, models.EnrollmentStatusActive, ""); err != nil {
			return err
		} else if active {
			return appErrors.ErrAlreadyActiveInTrack
		}
		if completed, err := s.repo.ExistsInTrackTx(ctx, tx, req.StudentID, class.Track, models.EnrollmentStatusCompleted, ""); err != nil {
			return err
		} else if completed {
			return appErrors.ErrAlreadyCompleted
		}

		if err := s.ledger.Reserve(ctx, tx, class.ID); err != nil {
			return err
		}

		if existing != nil {
			// The (student, class) pair already has a historical row; the
			// schema forbids a duplicate, so it is reactivated in place.
			if err := s.repo.ReactivateTx(ctx, tx, existing.ID, nil); err != nil {
				return err
			}
			enrollmentID = existing.ID
		} else {
			enrollment := &models.Enrollment{StudentID: req.StudentID, ClassID: req.ClassID, Status: models.EnrollmentStatusActive}
			if err := s.repo.CreateTx(ctx, tx, enrollment); err != nil {
				return err
			}
			enrollmentID = enrollment.ID
		}
		notifyClass = &models.ClassSummary{ID: class.ID, Name: class.Name, Track: class.Track}
		return nil
	})
	if err != nil {
		s.record("register", err)
		return nil, s.mapTxError(err, "failed to register enrollment")
	}
	s.record("register", nil)

	if s.notifier != nil && notifyClass != nil {
		s.notifier.NotifyEnrolled(req.StudentID, *notifyClass)
	}
	return s.detail(ctx, enrollmentID)
}

// TransferSameTrack moves an active enrollment to another class in the same
// track, preserving lineage. Net effect is -1 on the old class and +1 on the
// new one within a single transaction.
func (s *EnrollmentService) TransferSameTrack(ctx context.Context, enrollmentID string, req TransferRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transfer payload")
	}

	var resultID string
	var oldSummary, newSummary models.ClassSummary
	err := s.tx.Serializable(ctx, func(tx *sqlx.Tx) error {
		old, err := s.lockOwnedActive(ctx, tx, enrollmentID, req.StudentID)
		if err != nil {
			return err
		}
		if old.ClassID == req.TargetClassID {
			return appErrors.ErrAlreadySameClass
		}

		target, err := s.ledger.Lock(ctx, tx, req.TargetClassID)
		if err != nil {
			return err
		}
		oldClass, err := s.ledger.Lock(ctx, tx, old.ClassID)
		if err != nil {
			return err
		}
		if target.Track != oldClass.Track {
			return appErrors.Clone(appErrors.ErrValidation, "target class belongs to a different track, use a course change")
		}

		existing, err := s.repo.FindByStudentAndClassTx(ctx, tx, req.StudentID, req.TargetClassID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == models.EnrollmentStatusActive {
			resultID = existing.ID
			return nil
		}

		if err := s.ledger.Reserve(ctx, tx, target.ID); err != nil {
			return err
		}
		if err := s.repo.UpdateStatusTx(ctx, tx, old.ID, models.EnrollmentStatusTransferred, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, tx, old.ClassID); err != nil {
			return err
		}

		fromClass := old.ClassID
		if existing != nil {
			if err := s.repo.ReactivateTx(ctx, tx, existing.ID, &fromClass); err != nil {
				return err
			}
			resultID = existing.ID
		} else {
			enrollment := &models.Enrollment{
				StudentID:              req.StudentID,
				ClassID:                req.TargetClassID,
				Status:                 models.EnrollmentStatusActive,
				TransferredFromClassID: &fromClass,
			}
			if err := s.repo.CreateTx(ctx, tx, enrollment); err != nil {
				return err
			}
			resultID = enrollment.ID
		}

		oldSummary = models.ClassSummary{ID: oldClass.ID, Name: oldClass.Name, Track: oldClass.Track}
		newSummary = models.ClassSummary{ID: target.ID, Name: target.Name, Track: target.Track}
		return nil
	})
	if err != nil {
		s.record("transfer", err)
		return nil, s.mapTxError(err, "failed to transfer enrollment")
	}
	s.record("transfer", nil)

	if s.notifier != nil && oldSummary.ID != "" {
		s.notifier.NotifyTransfer(req.StudentID, oldSummary, newSummary)
	}
	return s.detail(ctx, resultID)
}

// ChangeTrack moves an active enrollment to a class in a different track. The
// old enrollment is cancelled rather than marked transferred, since the new
// one is not a continuation; lineage is still recorded on the new row.
func (s *EnrollmentService) ChangeTrack(ctx context.Context, enrollmentID string, req TransferRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course change payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	var resultID string
	var oldSummary, newSummary models.ClassSummary
	err = s.tx.Serializable(ctx, func(tx *sqlx.Tx) error {
		old, err := s.lockOwnedActive(ctx, tx, enrollmentID, req.StudentID)
		if err != nil {
			return err
		}
		if old.ClassID == req.TargetClassID {
			return appErrors.ErrAlreadySameClass
		}

		target, err := s.ledger.Lock(ctx, tx, req.TargetClassID)
		if err != nil {
			return err
		}
		oldClass, err := s.ledger.Lock(ctx, tx, old.ClassID)
		if err != nil {
			return err
		}
		if target.Track == oldClass.Track {
			return appErrors.Clone(appErrors.ErrValidation, "target class belongs to the same track, use a transfer")
		}
		if !target.AcceptsEnrollments() {
			return appErrors.ErrClassInactive
		}
		if target.RestrictedGender != nil && *target.RestrictedGender != student.Gender {
			return appErrors.ErrGenderRestricted
		}

		existing, err := s.repo.FindByStudentAndClassTx(ctx, tx, req.StudentID, req.TargetClassID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == models.EnrollmentStatusActive {
			resultID = existing.ID
			return nil
		}
		if existing != nil && existing.Status == models.EnrollmentStatusCompleted {
			return appErrors.ErrAlreadyCompleted
		}

		if active, err := s.repo.ExistsInTrackTx(ctx, tx, req.StudentID, target.Track, models.EnrollmentStatusActive, ""); err != nil {
			return err
		} else if active {
			return appErrors.ErrAlreadyActiveInTrack
		}
		if completed, err := s.repo.ExistsInTrackTx(ctx, tx, req.StudentID, target.Track, models.EnrollmentStatusCompleted, ""); err != nil {
			return err
		} else if completed {
			return appErrors.ErrAlreadyCompleted
		}

		if err := s.ledger.Reserve(ctx, tx, target.ID); err != nil {
			return err
		}
		if err := s.repo.UpdateStatusTx(ctx, tx, old.ID, models.EnrollmentStatusCancelled, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, tx, old.ClassID); err != nil {
			return err
		}

		fromClass := old.ClassID
		if existing != nil {
			if err := s.repo.ReactivateTx(ctx, tx, existing.ID, &fromClass); err != nil {
				return err
			}
			resultID = existing.ID
		} else {
			enrollment := &models.Enrollment{
				StudentID:              req.StudentID,
				ClassID:                req.TargetClassID,
				Status:                 models.EnrollmentStatusActive,
				TransferredFromClassID: &fromClass,
			}
			if err := s.repo.CreateTx(ctx, tx, enrollment); err != nil {
				return err
			}
			resultID = enrollment.ID
		}

		oldSummary = models.ClassSummary{ID: oldClass.ID, Name: oldClass.Name, Track: oldClass.Track}
		newSummary = models.ClassSummary{ID: target.ID, Name: target.Name, Track: target.Track}
		return nil
	})
	if err != nil {
		s.record("change_track", err)
		return nil, s.mapTxError(err, "failed to change course")
	}
	s.record("change_track", nil)

	if s.notifier != nil && oldSummary.ID != "" {
		s.notifier.NotifyTransfer(req.StudentID, oldSummary, newSummary)
	}
	return s.detail(ctx, resultID)
}

// Complete marks an active enrollment as completed and frees its seat.
// Completing an already-completed enrollment is a no-op success.
func (s *EnrollmentService) Complete(ctx context.Context, enrollmentID string) (*models.EnrollmentDetail, error) {
	err := s.tx.Serializable(ctx, func(tx *sqlx.Tx) error {
		enrollment, err := s.repo.FindByIDTx(ctx, tx, enrollmentID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.ErrEnrollmentNotFound
			}
			return err
		}
		if enrollment.Status == models.EnrollmentStatusCompleted {
			return nil
		}
		if !enrollment.Status.CanTransitionTo(models.EnrollmentStatusCompleted) {
			return appErrors.ErrInvalidTransition
		}
		if err := s.repo.UpdateStatusTx(ctx, tx, enrollment.ID, models.EnrollmentStatusCompleted, time.Now().UTC()); err != nil {
			return err
		}
		return s.ledger.Release(ctx, tx, enrollment.ClassID)
	})
	if err != nil {
		s.record("complete", err)
		return nil, s.mapTxError(err, "failed to complete enrollment")
	}
	s.record("complete", nil)
	return s.detail(ctx, enrollmentID)
}

// Cancel withdraws an active enrollment and frees its seat.
func (s *EnrollmentService) Cancel(ctx context.Context, enrollmentID string) (*models.EnrollmentDetail, error) {
	err := s.tx.Serializable(ctx, func(tx *sqlx.Tx) error {
		enrollment, err := s.repo.FindByIDTx(ctx, tx, enrollmentID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.ErrEnrollmentNotFound
			}
			return err
		}
		if !enrollment.Status.CanTransitionTo(models.EnrollmentStatusCancelled) {
			return appErrors.ErrEnrollmentNotActive
		}
		if err := s.repo.UpdateStatusTx(ctx, tx, enrollment.ID, models.EnrollmentStatusCancelled, time.Now().UTC()); err != nil {
			return err
		}
		return s.ledger.Release(ctx, tx, enrollment.ClassID)
	})
	if err != nil {
		s.record("cancel", err)
		return nil, s.mapTxError(err, "failed to cancel enrollment")
	}
	s.record("cancel", nil)
	return s.detail(ctx, enrollmentID)
}

func (s *EnrollmentService) lockOwnedActive(ctx context.Context, tx *sqlx.Tx, enrollmentID, studentID string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByIDTx(ctx, tx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, err
	}
	if enrollment.StudentID != studentID {
		return nil, appErrors.ErrNotOwned
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.ErrEnrollmentNotActive
	}
	return enrollment, nil
}

func (s *EnrollmentService) detail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

func (s *EnrollmentService) mapTxError(err error, message string) error {
	if appErr := appErrors.FromError(err); appErr.Code != appErrors.ErrInternal.Code {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *EnrollmentService) record(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = appErrors.FromError(err).Code
		if appErrors.Is(err, appErrors.ErrClassFull) {
			s.metrics.RecordCapacityConflict("")
		}
	}
	s.metrics.RecordEnrollmentOperation(operation, outcome)
}
