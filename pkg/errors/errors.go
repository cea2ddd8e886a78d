package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes sync failures
type ErrorType string

const (
	// Fetch errors
	ErrorTypeTransientFetch ErrorType = "transient_fetch"
	ErrorTypeRateLimit      ErrorType = "rate_limit"

	// Write errors
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeNotFound   ErrorType = "not_found"

	// Realtime errors
	ErrorTypeSubscription ErrorType = "subscription"

	// Session errors
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeDisposed ErrorType = "disposed"

	// Unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// SyncError represents a structured error with context.
// It is returned inside load and mutate results and is never fatal.
type SyncError struct {
	Type       ErrorType
	Message    string
	Cause      error
	Suggestion string
	StatusCode int
	RetryAfter int
	// Code is the backend error code when one was reported (e.g. "23505").
	Code string
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil && !strings.Contains(e.Message, e.Cause.Error()) {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is matches any SyncError of the same type, so errors.Is(err, ErrDisposed)
// works for wrapped values.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Message == ""
}

// WithSuggestion adds a helpful suggestion to the error
func (e *SyncError) WithSuggestion(suggestion string) *SyncError {
	e.Suggestion = suggestion
	return e
}

// WithStatus records the HTTP status that produced the error
func (e *SyncError) WithStatus(code int) *SyncError {
	e.StatusCode = code
	return e
}

// HasSuggestion returns true if the error has a suggestion
func (e *SyncError) HasSuggestion() bool {
	return e.Suggestion != ""
}

// New creates a new sync error
func New(errorType ErrorType, message string, cause error) *SyncError {
	return &SyncError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is checks. They carry no message so they match by type.
var (
	ErrTransientFetch = &SyncError{Type: ErrorTypeTransientFetch}
	ErrValidation     = &SyncError{Type: ErrorTypeValidation}
	ErrConflict       = &SyncError{Type: ErrorTypeConflict}
	ErrSubscription   = &SyncError{Type: ErrorTypeSubscription}
	ErrAuth           = &SyncError{Type: ErrorTypeAuth}
	ErrNotFound       = &SyncError{Type: ErrorTypeNotFound}
	ErrDisposed       = &SyncError{Type: ErrorTypeDisposed}
)

// TransientFetchError wraps a failed remote read
func TransientFetchError(cause error) *SyncError {
	err := New(ErrorTypeTransientFetch, "Backend unavailable", cause)
	err.Suggestion = "Showing the last known data. It will refresh on the next trigger."
	return err
}

// ValidationError creates a validation error
func ValidationError(field, reason string) *SyncError {
	return New(ErrorTypeValidation, fmt.Sprintf("Validation error: %s - %s", field, reason), nil)
}

// ConflictError creates a conflict error
func ConflictError(message string, cause error) *SyncError {
	err := New(ErrorTypeConflict, message, cause)
	err.Suggestion = "The data changed on the server. It has been reloaded."
	return err
}

// SubscriptionError creates a realtime subscription error
func SubscriptionError(topic string, cause error) *SyncError {
	err := New(ErrorTypeSubscription, fmt.Sprintf("Realtime channel unavailable: %s", topic), cause)
	err.Suggestion = "Falling back to polling."
	return err
}

// AuthError creates an authentication error
func AuthError(message string) *SyncError {
	err := New(ErrorTypeAuth, message, nil)
	err.Suggestion = "Store a fresh token with 'sidechain-sync auth set-token'."
	return err
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, identifier string) *SyncError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found: %s", resourceType, identifier), nil)
}

// RateLimitError creates a rate limit error
func RateLimitError(retryAfter int) *SyncError {
	err := New(ErrorTypeRateLimit, "Rate limit exceeded. Too many requests.", nil)
	err.RetryAfter = retryAfter
	err.Suggestion = fmt.Sprintf("Please wait %d seconds before trying again.", retryAfter)
	return err
}

// TypeOf returns the error's category, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Type
	}
	return ErrorTypeUnknown
}

// IsTransient reports whether err is a recoverable fetch failure
func IsTransient(err error) bool {
	t := TypeOf(err)
	return t == ErrorTypeTransientFetch || t == ErrorTypeRateLimit
}

// IsValidation reports whether err rejected caller input
func IsValidation(err error) bool { return TypeOf(err) == ErrorTypeValidation }

// IsConflict reports whether the backend rejected a write due to concurrent change
func IsConflict(err error) bool { return TypeOf(err) == ErrorTypeConflict }

// IsSubscription reports whether a realtime channel failed
func IsSubscription(err error) bool { return TypeOf(err) == ErrorTypeSubscription }

// IsDisposed reports whether the owning scope was closed
func IsDisposed(err error) bool { return TypeOf(err) == ErrorTypeDisposed }

// CategorizeError converts a standard error into a SyncError
func CategorizeError(err error) *SyncError {
	if err == nil {
		return nil
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return TransientFetchError(err)
	}

	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "connection refused"),
		strings.Contains(errMsg, "no such host"),
		strings.Contains(errMsg, "timeout"),
		strings.Contains(errMsg, "eof"):
		return TransientFetchError(err)
	case strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthorized"):
		return AuthError("Invalid or expired token")
	case strings.Contains(errMsg, "404") || strings.Contains(errMsg, "not found"):
		return NotFoundError("Resource", "unknown")
	case strings.Contains(errMsg, "409") || strings.Contains(errMsg, "conflict"):
		return ConflictError("Write conflict", err)
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit"):
		return RateLimitError(60)
	case strings.Contains(errMsg, "500") || strings.Contains(errMsg, "server error"):
		return TransientFetchError(err)
	default:
		return New(ErrorTypeUnknown, err.Error(), err)
	}
}

// FormatError returns a user-friendly error message
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	syncErr := CategorizeError(err)
	var sb strings.Builder

	sb.WriteString("Error")
	if syncErr.Type != ErrorTypeUnknown {
		sb.WriteString(" (")
		sb.WriteString(string(syncErr.Type))
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(syncErr.Error())
	sb.WriteString("\n")

	if syncErr.HasSuggestion() {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(syncErr.Suggestion)
		sb.WriteString("\n")
	}

	if syncErr.Type == ErrorTypeRateLimit && syncErr.RetryAfter > 0 {
		sb.WriteString(fmt.Sprintf("\nRetry in: %d seconds\n", syncErr.RetryAfter))
	}

	return sb.String()
}
