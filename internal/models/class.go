package models

import "time"

// Track identifies the program track a class belongs to. A student may hold
// only one active enrollment per track at a time.
type Track string

// Known program tracks.
const (
	TrackChurch    Track = "CHURCH"
	TrackInstitute Track = "INSTITUTE"
	TrackWorkshop  Track = "WORKSHOP"
)

// IsValid reports whether the track belongs to the known set.
func (t Track) IsValid() bool {
	switch t {
	case TrackChurch, TrackInstitute, TrackWorkshop:
		return true
	}
	return false
}

// Class represents a fixed-capacity course offering.
//
// EnrolledCount is a denormalized counter that must always equal the number
// of ACTIVE enrollments for the class. It is mutated exclusively through the
// capacity ledger, inside the same transaction as the enrollment change.
type Class struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	Track            Track     `db:"track" json:"track"`
	Capacity         int       `db:"capacity" json:"capacity"`
	EnrolledCount    int       `db:"enrolled_count" json:"enrolled_count"`
	Active           bool      `db:"active" json:"active"`
	Archived         bool      `db:"archived" json:"archived"`
	RestrictedGender *string   `db:"restricted_gender" json:"restricted_gender,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// AcceptsEnrollments reports whether the class is open for new enrollments.
func (c *Class) AcceptsEnrollments() bool {
	return c.Active && !c.Archived
}

// SeatsLeft returns remaining capacity, never negative.
func (c *Class) SeatsLeft() int {
	left := c.Capacity - c.EnrolledCount
	if left < 0 {
		return 0
	}
	return left
}

// ClassSummary is the minimal class view handed to notification payloads.
type ClassSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Track Track  `json:"track"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	Track     Track
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
