// Package errors provides a structured error system for optcoord with error
// codes, categories, and context.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a structured error code for coordinator operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Request errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeKeyGeneration    ErrorCode = "KEY_GENERATION"

	// Compute errors
	ErrCodeComputeFailed ErrorCode = "COMPUTE_FAILED"
	ErrCodeBatchFailed   ErrorCode = "BATCH_FAILED"
	ErrCodeResultShape   ErrorCode = "RESULT_SHAPE"

	// Resource errors
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeMemoryCritical    ErrorCode = "MEMORY_CRITICAL"

	// State errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeNotStarted     ErrorCode = "NOT_STARTED"
	ErrCodeStopped        ErrorCode = "STOPPED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryRequest       ErrorCategory = "request"
	CategoryCompute       ErrorCategory = "compute"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
)

// categoryFor maps an error code to its category.
func categoryFor(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigLoad, ErrCodeConfigValidation:
		return CategoryConfiguration
	case ErrCodeValidationFailed, ErrCodeKeyGeneration:
		return CategoryRequest
	case ErrCodeComputeFailed, ErrCodeBatchFailed, ErrCodeResultShape:
		return CategoryCompute
	case ErrCodeResourceExhausted, ErrCodeMemoryCritical:
		return CategoryResource
	default:
		return CategoryState
	}
}

// CoordError represents a structured error with context and metadata.
type CoordError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *CoordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *CoordError) Unwrap() error {
	return e.Cause
}

// JSON serializes the error to JSON for logs and diagnostics.
func (e *CoordError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":%q,"message":"marshal failed"}`, e.Code)
	}
	return string(data)
}

// WithContext attaches a context key/value pair and returns the error.
func (e *CoordError) WithContext(key, value string) *CoordError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent records the component the error originated from.
func (e *CoordError) WithComponent(component string) *CoordError {
	e.Component = component
	return e
}

// WithOperation records the operation that failed.
func (e *CoordError) WithOperation(operation string) *CoordError {
	e.Operation = operation
	return e
}

// New creates a structured error with the given code and message.
func New(code ErrorCode, message string) *CoordError {
	return &CoordError{
		Code:      code,
		Category:  categoryFor(code),
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CoordError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a structured error wrapping an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *CoordError {
	e := New(code, message)
	e.Cause = cause
	return e
}

// CodeOf extracts the error code from an error chain, or empty string if the
// chain contains no CoordError.
func CodeOf(err error) ErrorCode {
	var ce *CoordError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether the error chain contains a CoordError with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
