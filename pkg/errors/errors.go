package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Enrollment domain errors. Codes are stable and machine readable; handlers
// must surface these instead of raw storage errors.
var (
	ErrStudentNotFound    = New("STUDENT_NOT_FOUND", http.StatusNotFound, "student not found")
	ErrClassNotFound      = New("CLASS_NOT_FOUND", http.StatusNotFound, "class not found")
	ErrEnrollmentNotFound = New("ENROLLMENT_NOT_FOUND", http.StatusNotFound, "enrollment not found")

	ErrClassInactive        = New("CLASS_INACTIVE", http.StatusConflict, "class is not accepting enrollments")
	ErrClassFull            = New("CLASS_FULL", http.StatusConflict, "class has reached its capacity")
	ErrGenderRestricted     = New("GENDER_RESTRICTED", http.StatusConflict, "class is restricted by gender")
	ErrAlreadyActiveInTrack = New("ALREADY_ACTIVE_IN_TRACK", http.StatusConflict, "student already has an active enrollment in this track")
	ErrAlreadyCompleted     = New("ALREADY_COMPLETED_TRACK", http.StatusConflict, "student already completed this track")
	ErrAlreadySameClass     = New("ALREADY_SAME_CLASS", http.StatusConflict, "enrollment already belongs to the target class")
	ErrAlreadyEnrolled      = New("ALREADY_ACTIVELY_ENROLLED", http.StatusConflict, "student already holds an active enrollment")
	ErrEnrollmentNotActive  = New("ENROLLMENT_NOT_ACTIVE", http.StatusConflict, "enrollment is not active")
	ErrNotOwned             = New("ENROLLMENT_NOT_OWNED", http.StatusConflict, "enrollment does not belong to the student")
	ErrInvalidTransition    = New("INVALID_TRANSITION", http.StatusConflict, "enrollment status cannot transition")

	// ErrBusy is returned after the bounded serialization-retry budget is
	// exhausted; the request is safe to retry.
	ErrBusy = New("BUSY", http.StatusConflict, "concurrent update detected, retry the request")

	// ErrInvariant signals a broken storage invariant. It is never corrected
	// silently; the operation aborts and the condition is logged loudly.
	ErrInvariant = New("INVARIANT_VIOLATION", http.StatusInternalServerError, "storage invariant violated")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same code as target.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
