package models

import "time"

// EligibilityReason is a machine-readable code explaining why a student is
// not eligible to enroll in a class.
type EligibilityReason string

// Eligibility reason codes, in check order.
const (
	ReasonStudentNotFound      EligibilityReason = "STUDENT_NOT_FOUND"
	ReasonClassNotFound        EligibilityReason = "CLASS_NOT_FOUND"
	ReasonClassInactive        EligibilityReason = "CLASS_INACTIVE"
	ReasonGenderRestricted     EligibilityReason = "GENDER_RESTRICTED"
	ReasonClassFull            EligibilityReason = "CLASS_FULL"
	ReasonAlreadyActiveInTrack EligibilityReason = "ALREADY_ACTIVE_IN_TRACK"
	ReasonAlreadyCompleted     EligibilityReason = "ALREADY_COMPLETED_TRACK"
)

// EligibilityResult is the structured outcome of a read-only eligibility
// check. When Eligible is true with RequiresConfirmation set, the caller must
// re-confirm with the user before registering (a prior cancellation exists in
// the target track).
type EligibilityResult struct {
	Eligible                bool              `json:"eligible"`
	Reason                  EligibilityReason `json:"reason,omitempty"`
	RequiresConfirmation    bool              `json:"requires_confirmation,omitempty"`
	ConflictingEnrollmentID string            `json:"conflicting_enrollment_id,omitempty"`
	CompletedAt             *time.Time        `json:"completed_at,omitempty"`
	PriorCancelledAt        *time.Time        `json:"prior_cancelled_at,omitempty"`
}
