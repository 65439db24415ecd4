package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnrollmentStatusTransitions(t *testing.T) {
	assert.True(t, EnrollmentStatusActive.CanTransitionTo(EnrollmentStatusCompleted))
	assert.True(t, EnrollmentStatusActive.CanTransitionTo(EnrollmentStatusCancelled))
	assert.True(t, EnrollmentStatusActive.CanTransitionTo(EnrollmentStatusTransferred))
	assert.False(t, EnrollmentStatusActive.CanTransitionTo(EnrollmentStatusActive))

	for _, terminal := range []EnrollmentStatus{EnrollmentStatusCompleted, EnrollmentStatusCancelled, EnrollmentStatusTransferred} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.CanTransitionTo(EnrollmentStatusActive))
		assert.False(t, terminal.CanTransitionTo(EnrollmentStatusCompleted))
	}
}

func TestTrackIsValid(t *testing.T) {
	assert.True(t, TrackChurch.IsValid())
	assert.True(t, TrackInstitute.IsValid())
	assert.True(t, TrackWorkshop.IsValid())
	assert.False(t, Track("KARATE").IsValid())
}

func TestClassAcceptsEnrollments(t *testing.T) {
	class := &Class{Active: true, Archived: false, Capacity: 3, EnrolledCount: 2}
	assert.True(t, class.AcceptsEnrollments())
	assert.Equal(t, 1, class.SeatsLeft())

	class.Archived = true
	assert.False(t, class.AcceptsEnrollments())

	class.Archived = false
	class.Active = false
	assert.False(t, class.AcceptsEnrollments())

	class.EnrolledCount = 5
	assert.Equal(t, 0, class.SeatsLeft())
}
