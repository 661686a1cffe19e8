// Package domain provides canonical message and error types for the chat backend.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of a provider error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates an authentication failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates a permission/authorization failure.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates rate limiting was triggered.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeTimeout indicates the provider did not answer in time.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeOverloaded indicates the service is overloaded.
	ErrorTypeOverloaded ErrorType = "overloaded"

	// ErrorTypeServer indicates a generic provider fault.
	ErrorTypeServer ErrorType = "server"

	// ErrorTypeContextLength indicates the context length was exceeded.
	ErrorTypeContextLength ErrorType = "context_length"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeContextLengthExceeded ErrorCode = "context_length_exceeded"
	ErrorCodeRateLimitExceeded     ErrorCode = "rate_limit_exceeded"
	ErrorCodeInvalidAPIKey         ErrorCode = "invalid_api_key"
	ErrorCodeModelNotFound         ErrorCode = "model_not_found"
)

// APIError is the error every provider adapter returns for upstream failures.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// StatusCode is the upstream HTTP status, when there was one
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Transient reports whether the error is expected to clear on retry.
func (e *APIError) Transient() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeOverloaded, ErrorTypeServer:
		return true
	default:
		return false
	}
}

// HTTPStatusCode returns the status a client of this service should see.
func (e *APIError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeContextLength:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeAuthentication, ErrorTypePermission, ErrorTypeServer, ErrorTypeOverloaded:
		// Upstream credential problems are ours, not the caller's.
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithStatusCode records the upstream HTTP status.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *APIError {
	return NewAPIError(ErrorTypeRateLimit, message).
		WithCode(ErrorCodeRateLimitExceeded)
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *APIError {
	return NewAPIError(ErrorTypeTimeout, message)
}

// ErrServer creates a generic provider fault.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// IsTransient reports whether err (or anything it wraps) is a transient
// provider error. Cancellation of the caller's context is never transient.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}
