package consultation

import (
	"errors"
	"fmt"
)

// Errors surfaced by the consultation engine. Callers classify with errors.Is.
var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrMissingIdentity      = errors.New("missing patient identity")
	ErrInvalidInput         = errors.New("invalid input")
	ErrPersistenceFailure   = errors.New("consultation could not be saved")
	ErrConcurrentFinish     = errors.New("a finish is already in progress")
	ErrNotFound             = errors.New("not found")
	ErrNoActivePatient      = errors.New("no active patient")
)

// FieldError names the field that blocked an operation.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Field)
}

func (e *FieldError) Unwrap() error { return e.Err }

func missingField(field string) error {
	return &FieldError{Field: field, Err: ErrMissingRequiredField}
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
