package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers match with errors.Is.
var (
	ErrEmptyQuestion     = errors.New("question cannot be empty")
	ErrEmbeddingService  = errors.New("embedding service error")
	ErrIndexUnavailable  = errors.New("similarity index unavailable")
	ErrGenerationService = errors.New("generation service error")
	ErrDataIntegrity     = errors.New("data integrity error")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ServiceError is an external-collaborator failure. Kind is one of the
// service sentinels above; Err is the underlying cause.
type ServiceError struct {
	Op   string
	Kind error
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewServiceError creates a ServiceError.
func NewServiceError(op string, kind, err error) *ServiceError {
	return &ServiceError{Op: op, Kind: kind, Err: err}
}

// IsValidation reports whether err originated from request validation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
