package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrForbidden is returned when the caller does not own the target resource
	ErrForbidden = errors.New("forbidden")

	// ErrStateIllegal is returned when an operation is invalid for the entity's
	// current state (e.g. approving a skill before validation completed)
	ErrStateIllegal = errors.New("illegal state transition")

	// ErrConflict is returned on optimistic-concurrency failures and
	// incomplete-precondition conflicts (ETag mismatch, missing chunks)
	ErrConflict = errors.New("conflict")

	// ErrPayloadTooLarge is returned when an upload exceeds the size cap
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
