package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// InvalidStateError reports a state transition attempted from a status that
// does not permit it. The failed call must not have mutated anything.
type InvalidStateError struct {
	Entity    string
	Current   string
	Attempted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s in status %s does not allow %s", e.Entity, e.Current, e.Attempted)
}

func NewInvalidStateError(entity string, current string, attempted string) error {
	return &InvalidStateError{Entity: entity, Current: current, Attempted: attempted}
}

func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// ValidationError reports a missing or malformed field, rejected before any
// state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidationError(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
