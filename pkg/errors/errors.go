// Package errors defines AppError, the error shape every ledger operation
// returns and the HTTP layer renders. Code is stable and machine-readable;
// Message is for people.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "RESOURCE_NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeLockTimeout        = "LOCK_TIMEOUT"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
)

// AppError carries a code, the HTTP status it maps to and whether the
// caller may retry unchanged
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Retryable  bool              `json:"retryable,omitempty"`
	Err        error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails replaces the details map
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[key] = value
	return e
}

// Wrap keeps cause for logs and errors.Is; it is never rendered
func (e *AppError) Wrap(cause error) *AppError {
	e.Err = cause
	return e
}

func NewAppError(code string, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func retryable(e *AppError) *AppError {
	e.Retryable = true
	return e
}

func ErrValidation(message string) *AppError {
	return NewAppError(CodeValidationError, message, http.StatusBadRequest)
}

// ErrValidationWithFields maps each offending field to its problem
func ErrValidationWithFields(message string, fields map[string]string) *AppError {
	return ErrValidation(message).WithDetails(fields)
}

func ErrNotFound(resource string) *AppError {
	return NewAppError(CodeNotFound, resource+" not found", http.StatusNotFound)
}

func ErrNotFoundWithID(resource, id string) *AppError {
	return ErrNotFound(resource).WithDetail("id", id)
}

func ErrConflict(message string) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict)
}

// ErrInsufficientStock reports the balance seen when a debit was refused
func ErrInsufficientStock(available, requested int64) *AppError {
	return NewAppError(CodeInsufficientStock, fmt.Sprintf("Only %d items available", available), http.StatusConflict).
		WithDetail("available", strconv.FormatInt(available, 10)).
		WithDetail("requested", strconv.FormatInt(requested, 10))
}

// ErrInvalidTransition rejects a decision on a transfer that is no longer pending
func ErrInvalidTransition(message string) *AppError {
	return NewAppError(CodeInvalidTransition, message, http.StatusConflict)
}

// ErrLockTimeout means the consistency guard could not be taken in time
func ErrLockTimeout(resource string) *AppError {
	return retryable(NewAppError(CodeLockTimeout, resource+" is busy, retry later", http.StatusServiceUnavailable))
}

func ErrInternal(message string) *AppError {
	if message == "" {
		message = "an internal error occurred"
	}
	return NewAppError(CodeInternalError, message, http.StatusInternalServerError)
}

func ErrServiceUnavailable(service string) *AppError {
	return retryable(NewAppError(CodeServiceUnavailable, service+" is temporarily unavailable", http.StatusServiceUnavailable))
}

func ErrRateLimitExceeded() *AppError {
	return retryable(NewAppError(CodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests))
}

// AsAppError finds an AppError anywhere in err's chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// FromError returns the AppError in err's chain, or wraps err as internal
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return ErrInternal("").Wrap(err)
}
