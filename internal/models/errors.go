package models

import (
	"errors"
	"fmt"
)

// Custom errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	ErrInvalidID    = errors.New("invalid ID format")
)

// ValidationError carries a machine-readable code alongside the message so
// organizers can tell "duplicate, ignore" apart from "device needs attention".
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a coded validation error.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// StateConflictError is returned when a race-control transition is illegal
// for the stage's current status. The stage is left untouched.
type StateConflictError struct {
	Status     StageStatus
	Transition string
}

// Error implements the error interface.
func (e *StateConflictError) Error() string {
	return fmt.Sprintf("STATE_CONFLICT: cannot %s a stage in status %s", e.Transition, e.Status)
}

// NewStateConflict creates a state conflict error for a rejected transition.
func NewStateConflict(status StageStatus, transition string) *StateConflictError {
	return &StateConflictError{Status: status, Transition: transition}
}

// IsStateConflict reports whether err is a race-control state conflict.
func IsStateConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}
