package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrConcurrentClaim is returned by a conditional update whose precondition
	// no longer holds because another caller changed the job first
	ErrConcurrentClaim = errors.New("job changed concurrently")

	// ErrJobAlreadyExists is returned when inserting a job id twice
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrDuplicateRequestID is returned by the store when request_id is already taken
	ErrDuplicateRequestID = errors.New("request_id already exists")

	// ErrDuplicateActiveSubject is returned by the store when the subject already has an active job
	ErrDuplicateActiveSubject = errors.New("subject already has an active job")
)

// ValidationError reports malformed admission input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a status change the state machine does not allow
type InvalidTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}

// IsValidation reports whether err wraps a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError
func IsInvalidTransition(err error) bool {
	var t *InvalidTransitionError
	return errors.As(err, &t)
}
