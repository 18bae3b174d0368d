// Package apperr defines the error taxonomy shared by ingestion, retrieval and the
// HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInput is returned for empty or invalid queries and missing ingestion arguments.
	// Never retried.
	ErrInput = errors.New("invalid input")
	// ErrDependency is returned when a storage or model-provider call fails.
	ErrDependency = errors.New("dependency error")
	// ErrRateLimited marks a provider rejection that is safe to retry after backoff.
	ErrRateLimited = errors.New("rate limited")
	// ErrDataIntegrity is returned when a row the operation relies on is missing.
	ErrDataIntegrity = errors.New("data integrity error")
)

// Error carries the operation that failed alongside its taxonomy kind.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Dependency wraps err as a DependencyError for op.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrDependency, Op: op, Err: err}
}

// DataIntegrity wraps err as a DataIntegrityError for op.
func DataIntegrity(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrDataIntegrity, Op: op, Err: err}
}

// RateLimited wraps err as a retryable rate-limit DependencyError.
func RateLimited(op string, err error) error {
	return &Error{Kind: ErrDependency, Op: op, Err: errors.Join(ErrRateLimited, err)}
}

// ValidationError represents an InputError on a named field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Is reports ValidationError as an InputError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInput
}

// Invalid returns a ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsRateLimited reports whether err is a retryable rate-limit failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// HTTPStatus maps an error to the status code the API layer reports.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrDependency):
		return http.StatusBadGateway
	case errors.Is(err, ErrDataIntegrity):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
