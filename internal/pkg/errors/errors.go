// Package errors provides standardized API error types.
package errors

import (
	"fmt"
	"net/http"
)

// APIError represents a standardized API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    details,
	}
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
	}
}

// Standard error definitions
var (
	// ErrInputInvalid is returned when the request is malformed or fails
	// validation.
	ErrInputInvalid = &APIError{
		Code:       "input_invalid",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrAuthFailed is returned when authentication is required but
	// missing or invalid.
	ErrAuthFailed = &APIError{
		Code:       "auth_failed",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = &APIError{
		Code:       "not_found",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrConflict is returned when the request contradicts current state,
	// such as reporting a result for a job owned by another worker.
	ErrConflict = &APIError{
		Code:       "conflict",
		Message:    "Request conflicts with current state",
		StatusCode: http.StatusConflict,
	}

	// ErrUpstream is returned when the hosting provider or chat platform
	// rejects or fails a call made on the caller's behalf.
	ErrUpstream = &APIError{
		Code:       "upstream",
		Message:    "Upstream service error",
		StatusCode: http.StatusBadGateway,
	}

	// ErrStorage is returned for database failures.
	ErrStorage = &APIError{
		Code:       "storage",
		Message:    "Storage error",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:       "input_invalid",
		Message:    fmt.Sprintf("Validation failed: %s", message),
		StatusCode: http.StatusBadRequest,
		Details: map[string]string{
			"field": field,
			"error": message,
		},
	}
}

// NewNotFoundError creates a not found error for a specific resource type.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "not_found",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

// NewConflictError creates a conflict error with a custom message.
func NewConflictError(message string) *APIError {
	return &APIError{
		Code:       "conflict",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewUpstreamError creates an upstream error with a custom message.
func NewUpstreamError(message string) *APIError {
	return &APIError{
		Code:       "upstream",
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

// IsAPIError checks if an error is an APIError.
func IsAPIError(err error) bool {
	_, ok := err.(*APIError)
	return ok
}

// AsAPIError converts an error to an APIError if possible.
// Returns ErrInternal if the error is not an APIError.
func AsAPIError(err error) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return ErrInternal
}
