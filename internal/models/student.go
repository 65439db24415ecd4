package models

import "time"

// Student represents a person who can enroll in classes.
//
// The priority-list fields form a waitlist marker that is mutually exclusive
// with holding any active enrollment.
type Student struct {
	ID              string     `db:"id" json:"id"`
	FullName        string     `db:"full_name" json:"full_name"`
	Gender          string     `db:"gender" json:"gender"`
	Phone           string     `db:"phone" json:"phone"`
	Active          bool       `db:"active" json:"active"`
	PriorityListed  bool       `db:"priority_listed" json:"priority_listed"`
	PriorityClassID *string    `db:"priority_class_id" json:"priority_class_id,omitempty"`
	PrioritySince   *time.Time `db:"priority_since" json:"priority_since,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
