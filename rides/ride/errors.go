package ride

import (
	"errors"
	"fmt"
)

// Field names used in validation errors and user-facing messages.
const (
	FieldFrom      = "from"
	FieldTo        = "to"
	FieldCapacity  = "capacity"
	FieldTimeRange = "time_range"
	FieldComment   = "comment"
	FieldStatus    = "status"
	FieldConfirm   = "confirm"
)

// ValidationError reports user-supplied data that violates a field invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return invalid(field, reason)
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Code is picked up by the handler summary logger as err_code.
func (e *ValidationError) Code() string { return "validation" }

// StorageError wraps a persistence failure. Its detail is for logs only.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ride store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Code is picked up by the handler summary logger as err_code.
func (e *StorageError) Code() string { return "storage" }

// Storage wraps err as a StorageError for op; nil stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// AsValidation extracts a ValidationError from err's chain.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsStorage reports whether err is a persistence failure.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
