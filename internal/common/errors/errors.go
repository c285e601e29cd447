// Package errors provides the orchestrator's error taxonomy.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants.
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeOverloaded      = "OVERLOADED"
	ErrCodeProviderError   = "PROVIDER_ERROR"
	ErrCodeRetrievalError  = "RETRIEVAL_ERROR"
	ErrCodeValidationError = "VALIDATION_ERROR"
	ErrCodeInternal        = "INTERNAL"
)

// ProviderErrorKind distinguishes why a runtime provider call failed, so
// callers can decide whether to retry.
type ProviderErrorKind string

const (
	ProviderErrorTransient ProviderErrorKind = "transient"
	ProviderErrorPermanent ProviderErrorKind = "permanent"
	ProviderErrorTimeout   ProviderErrorKind = "timeout"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	// Kind carries the ProviderErrorKind for ErrCodeProviderError; empty otherwise.
	Kind ProviderErrorKind `json:"kind,omitempty"`
	Err  error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not-found error for a session, persona, or collection.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Forbidden creates a tenant-mismatch error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:       ErrCodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// Overloaded creates an error for an inbound queue that is full.
func Overloaded(message string) *AppError {
	return &AppError{
		Code:       ErrCodeOverloaded,
		Message:    message,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// Provider creates an LLM/embedder failure error of the given kind.
func Provider(kind ProviderErrorKind, message string, err error) *AppError {
	status := http.StatusBadGateway
	if kind == ProviderErrorTimeout {
		status = http.StatusGatewayTimeout
	}
	return &AppError{
		Code:       ErrCodeProviderError,
		Message:    message,
		HTTPStatus: status,
		Kind:       kind,
		Err:        err,
	}
}

// Retrieval creates a vector-store failure error.
func Retrieval(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeRetrievalError,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Validation creates a malformed-input error.
func Validation(message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Internal creates an invariant-violation error with a wrapped cause.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound reports whether err is a NotFound AppError.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsForbidden reports whether err is a Forbidden AppError.
func IsForbidden(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeForbidden
	}
	return false
}

// IsOverloaded reports whether err is an Overloaded AppError.
func IsOverloaded(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeOverloaded
	}
	return false
}

// IsTransientProviderError reports whether err is a retryable provider failure.
func IsTransientProviderError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeProviderError && appErr.Kind == ProviderErrorTransient
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error, defaulting to 500.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
