package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. ACTIVE is the initial state; the other three
// are terminal and mutually exclusive.
const (
	EnrollmentStatusActive      EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted   EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled   EnrollmentStatus = "CANCELLED"
	EnrollmentStatusTransferred EnrollmentStatus = "TRANSFERRED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusCancelled || s == EnrollmentStatusTransferred
}

// CanTransitionTo reports whether a status change is legal. Only ACTIVE may
// move, and never back into ACTIVE through a plain transition (reactivation
// during a course change is a distinct, explicitly guarded path).
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	if s != EnrollmentStatusActive {
		return false
	}
	return next.IsTerminal()
}

// Enrollment captures a student's registration in a class at a point in time.
type Enrollment struct {
	ID                     string           `db:"id" json:"id"`
	StudentID              string           `db:"student_id" json:"student_id"`
	ClassID                string           `db:"class_id" json:"class_id"`
	Status                 EnrollmentStatus `db:"status" json:"status"`
	CreatedAt              time.Time        `db:"created_at" json:"created_at"`
	CompletedAt            *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt            *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	TransferredFromClassID *string          `db:"transferred_from_class_id" json:"transferred_from_class_id,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and class info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	ClassName   string `db:"class_name" json:"class_name"`
	ClassTrack  Track  `db:"class_track" json:"class_track"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
	Track     Track
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
