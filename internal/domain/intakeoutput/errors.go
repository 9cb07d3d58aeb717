package intakeoutput

import (
	"errors"
	"fmt"
)

// Validation errors are returned before any mutation takes place.
var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrInvalidHour     = errors.New("invalid hour")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidSource   = errors.New("invalid source")
)

// ErrUnavailable means a metric lacks a prerequisite (no weight recorded).
// It is an expected outcome, not a fault, and must not be retried.
var ErrUnavailable = errors.New("metric unavailable")

// PersistenceError reports a failed store operation. The in-memory ledger is
// left untouched when one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is one of the ledger validation errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownCategory) ||
		errors.Is(err, ErrInvalidHour) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidSource)
}
