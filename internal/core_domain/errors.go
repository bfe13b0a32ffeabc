package core_domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrLeaseLost is returned when a worker tries to resolve an entry it no longer holds.
	ErrLeaseLost = errors.New("dispatch lease lost")
	// ErrDuplicateDispatch indicates a uniqueness conflict on (tenant, job, customer, local date, message no).
	ErrDuplicateDispatch = errors.New("dispatch entry already exists")
	ErrInvalidTimeOfDay  = errors.New("invalid time of day")
	ErrInvalidTimezone   = errors.New("invalid timezone")
)

// PermanentError wraps a failure that retrying cannot fix, such as a missing template
// or an undecryptable credential.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// IsPermanent reports whether err or anything it wraps is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
