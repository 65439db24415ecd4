package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opencourse/enrollment-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments. Methods with a Tx
// suffix participate in a caller-owned transaction; the orchestrator pairs
// them with capacity ledger calls so status and count always move together.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, class_id, status, created_at, completed_at, cancelled_at, transferred_from_class_id`

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN classes c ON c.id = e.class_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Track != "" {
		conditions = append(conditions, fmt.Sprintf("c.track = $%d", len(args)+1))
		args = append(args, filter.Track)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"student_name": "s.full_name",
		"class_name":   "c.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.class_id, e.status, e.created_at, e.completed_at, e.cancelled_at, e.transferred_from_class_id,
        s.full_name AS student_name, c.name AS class_name, c.track AS class_track
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.class_id, e.status, e.created_at, e.completed_at, e.cancelled_at, e.transferred_from_class_id,
        s.full_name AS student_name, c.name AS class_name, c.track AS class_track
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN classes c ON c.id = e.class_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// HistoryByStudentAndTrack returns every enrollment the student ever held in
// classes of the given track, most recent first.
func (r *EnrollmentRepository) HistoryByStudentAndTrack(ctx context.Context, studentID string, track models.Track) ([]models.Enrollment, error) {
	const query = `SELECT e.id, e.student_id, e.class_id, e.status, e.created_at, e.completed_at, e.cancelled_at, e.transferred_from_class_id
        FROM enrollments e
        JOIN classes c ON c.id = e.class_id
        WHERE e.student_id = $1 AND c.track = $2
        ORDER BY e.created_at DESC`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, track); err != nil {
		return nil, fmt.Errorf("enrollment history for student %s: %w", studentID, err)
	}
	return enrollments, nil
}

// FindTransferFollowUp returns the enrollment that superseded a transferred
// one, identified by its lineage reference.
func (r *EnrollmentRepository) FindTransferFollowUp(ctx context.Context, studentID, fromClassID string, after time.Time) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE student_id = $1 AND transferred_from_class_id = $2 AND created_at >= $3
        ORDER BY created_at ASC LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, fromClassID, after); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find transfer follow-up: %w", err)
	}
	return &enrollment, nil
}

// HasActiveAnywhere reports whether the student holds any active enrollment.
func (r *EnrollmentRepository) HasActiveAnywhere(ctx context.Context, studentID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND status = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// ListActiveByClass returns active enrollments with student context, used for
// roster exports.
func (r *EnrollmentRepository) ListActiveByClass(ctx context.Context, classID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.class_id, e.status, e.created_at, e.completed_at, e.cancelled_at, e.transferred_from_class_id,
        s.full_name AS student_name, c.name AS class_name, c.track AS class_track
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN classes c ON c.id = e.class_id
        WHERE e.class_id = $1 AND e.status = $2
        ORDER BY s.full_name ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, classID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list class roster: %w", err)
	}
	return enrollments, nil
}

// FindByIDTx loads an enrollment under a row-level lock.
func (r *EnrollmentRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByStudentAndClassTx loads the enrollment row for a (student, class)
// pair under lock. The schema allows at most one such row.
func (r *EnrollmentRepository) FindByStudentAndClassTx(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND class_id = $2 FOR UPDATE`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, query, studentID, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find enrollment by student and class: %w", err)
	}
	return &enrollment, nil
}

// ExistsInTrackTx checks for an enrollment with the given status in the
// track within the caller's transaction, optionally excluding one row.
func (r *EnrollmentRepository) ExistsInTrackTx(ctx context.Context, tx *sqlx.Tx, studentID string, track models.Track, status models.EnrollmentStatus, excludeID string) (bool, error) {
	query := `SELECT 1 FROM enrollments e JOIN classes c ON c.id = e.class_id
        WHERE e.student_id = $1 AND c.track = $2 AND e.status = $3`
	args := []interface{}{studentID, track, status}
	if excludeID != "" {
		query += fmt.Sprintf(" AND e.id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := tx.GetContext(ctx, &exists, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment in track: %w", err)
	}
	return true, nil
}

// CreateTx inserts a new active enrollment within the transaction.
func (r *EnrollmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (id, student_id, class_id, status, created_at, completed_at, cancelled_at, transferred_from_class_id)
        VALUES (:id, :student_id, :class_id, :status, :created_at, :completed_at, :cancelled_at, :transferred_from_class_id)`
	if _, err := tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatusTx applies a status transition with its timestamp bookkeeping.
// Legality of the transition is the caller's responsibility.
func (r *EnrollmentRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.EnrollmentStatus, at time.Time) error {
	var query string
	switch status {
	case models.EnrollmentStatusCompleted:
		query = `UPDATE enrollments SET status = $2, completed_at = $3 WHERE id = $1`
	case models.EnrollmentStatusCancelled:
		query = `UPDATE enrollments SET status = $2, cancelled_at = $3 WHERE id = $1`
	default:
		query = `UPDATE enrollments SET status = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, id, status); err != nil {
			return fmt.Errorf("update enrollment status: %w", err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, query, id, status, at.UTC()); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// ReactivateTx flips a terminal enrollment back to active in place, clearing
// terminal timestamps and recording transfer lineage. Used only by the
// cross-track course change, where the (student, class) pair already has a
// historical row that must not be duplicated.
func (r *EnrollmentRepository) ReactivateTx(ctx context.Context, tx *sqlx.Tx, id string, transferredFromClassID *string) error {
	const query = `UPDATE enrollments
        SET status = $2, completed_at = NULL, cancelled_at = NULL, transferred_from_class_id = $3, created_at = $4
        WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, models.EnrollmentStatusActive, transferredFromClassID, time.Now().UTC()); err != nil {
		return fmt.Errorf("reactivate enrollment: %w", err)
	}
	return nil
}
