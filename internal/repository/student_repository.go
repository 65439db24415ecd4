package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opencourse/enrollment-api/internal/models"
)

// StudentRepository provides read access to students plus the priority-list
// marker writes. Profile editing stays with the external directory CRUD.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, full_name, gender, phone, active, priority_listed, priority_class_id, priority_since, created_at, updated_at`

// FindByID returns a student by their ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns students matching filter criteria.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := "FROM students WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(full_name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"full_name":  true,
		"created_at": true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "full_name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		studentColumns, base+clause, sortBy, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// SetPriority upserts the priority-list marker on the student row.
func (r *StudentRepository) SetPriority(ctx context.Context, studentID, classID string, since time.Time) error {
	const query = `UPDATE students SET priority_listed = TRUE, priority_class_id = $2, priority_since = $3, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, studentID, classID, since.UTC()); err != nil {
		return fmt.Errorf("set priority marker: %w", err)
	}
	return nil
}

// ClearPriority removes the priority-list marker.
func (r *StudentRepository) ClearPriority(ctx context.Context, studentID string) error {
	const query = `UPDATE students SET priority_listed = FALSE, priority_class_id = NULL, priority_since = NULL, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, studentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear priority marker: %w", err)
	}
	return nil
}
