package worker

import "errors"

// PermanentError marks a processing failure that retrying cannot fix, such
// as a profile that no longer exists. The job fails without further attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or anything it wraps is a PermanentError
func IsPermanent(err error) bool {
	var pErr *PermanentError
	return errors.As(err, &pErr)
}
