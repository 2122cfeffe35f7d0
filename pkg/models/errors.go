package models

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrValidation matches any *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrExecutor matches any *ExecutorError via errors.Is.
	ErrExecutor = errors.New("action executor failed")
)

// ValidationError reports malformed or out-of-range input. Operations that
// return it have not mutated any state.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) true for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// ValidateProbability rejects values outside [0,1] and NaN.
func ValidateProbability(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return NewValidationError(field, fmt.Sprintf("must be within [0,1], got %v", v))
	}
	return nil
}

// ExecutorError wraps a failed or timed-out adaptation dispatch.
type ExecutorError struct {
	AgentID string
	Action  ActionKind
	Err     error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor failed for agent %s action %s: %v", e.AgentID, e.Action, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExecutor) true for every ExecutorError.
func (e *ExecutorError) Is(target error) bool {
	return target == ErrExecutor
}
