// Package errors provides the unified error taxonomy used across the board
// client. Every failure that crosses a component boundary is a *UnifiedError
// so callers can decide between "show a banner", "log and retry on the next
// poll" and "degrade to a raw identifier" without string matching.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ============================================================================
// ERROR TYPES AND CLASSIFICATION
// ============================================================================

// ErrorType defines the category of error for proper handling and response.
type ErrorType string

const (
	// Errors reported by the backend for a request it understood
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"

	// Local and transport errors
	ErrorTypeInternal   ErrorType = "INTERNAL"
	ErrorTypeTimeout    ErrorType = "TIMEOUT"
	ErrorTypeConnection ErrorType = "CONNECTION"

	// Backend availability
	ErrorTypeExternal    ErrorType = "EXTERNAL"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
)

// ErrorSeverity defines the severity level for logging and monitoring.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// ============================================================================
// UNIFIED ERROR STRUCTURE
// ============================================================================

// UnifiedError is the single error type returned by board client components.
type UnifiedError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`    // Specific error code for programmatic handling
	Message string    `json:"message"` // Human-readable message, shown in banners
	Details string    `json:"details"` // Additional context information

	Operation string `json:"operation"` // The operation that failed
	Resource  string `json:"resource"`  // The element or board being operated on
	BoardID   string `json:"boardId"`

	Severity   ErrorSeverity `json:"severity"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	Cause      error         `json:"-"`

	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e *UnifiedError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with the underlying cause.
func (e *UnifiedError) Unwrap() error {
	return e.Cause
}

// String provides a detailed multi-line representation for debug logging.
func (e *UnifiedError) String() string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("Error: %s\n", e.Error()))
	if e.Operation != "" {
		builder.WriteString(fmt.Sprintf("Operation: %s\n", e.Operation))
	}
	if e.Resource != "" {
		builder.WriteString(fmt.Sprintf("Resource: %s\n", e.Resource))
	}
	if e.BoardID != "" {
		builder.WriteString(fmt.Sprintf("Board: %s\n", e.BoardID))
	}
	builder.WriteString(fmt.Sprintf("Severity: %s\n", e.Severity))
	builder.WriteString(fmt.Sprintf("Retryable: %t\n", e.Retryable))
	if e.Cause != nil {
		builder.WriteString(fmt.Sprintf("Cause: %v\n", e.Cause))
	}
	if e.File != "" && e.Line > 0 {
		builder.WriteString(fmt.Sprintf("Location: %s:%d\n", e.File, e.Line))
	}

	return builder.String()
}

// ============================================================================
// ERROR BUILDER FOR FLUENT CONSTRUCTION
// ============================================================================

// ErrorBuilder provides a fluent interface for constructing UnifiedError instances.
type ErrorBuilder struct {
	error *UnifiedError
}

// NewError creates a new error builder with the specified type and message.
func NewError(errType ErrorType, code, message string) *ErrorBuilder {
	_, file, line, _ := runtime.Caller(1)

	return &ErrorBuilder{
		error: &UnifiedError{
			Type:      errType,
			Code:      code,
			Message:   message,
			Severity:  SeverityMedium,
			Retryable: false,
			File:      file,
			Line:      line,
		},
	}
}

// WithDetails adds additional details to the error.
func (b *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	b.error.Details = details
	return b
}

// WithOperation specifies the operation that failed.
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.error.Operation = operation
	return b
}

// WithResource specifies the element or board being operated on.
func (b *ErrorBuilder) WithResource(resource string) *ErrorBuilder {
	b.error.Resource = resource
	return b
}

// WithBoard adds board context to the error.
func (b *ErrorBuilder) WithBoard(boardID string) *ErrorBuilder {
	b.error.BoardID = boardID
	return b
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.error.Severity = severity
	return b
}

// WithRetryable marks the error as retryable.
func (b *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	b.error.Retryable = retryable
	return b
}

// WithCause adds the underlying cause error.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.error.Cause = cause
	return b
}

// WithRetryAfter sets how long to wait before retrying.
func (b *ErrorBuilder) WithRetryAfter(duration time.Duration) *ErrorBuilder {
	b.error.RetryAfter = duration
	b.error.Retryable = true
	return b
}

// Build returns the constructed UnifiedError.
func (b *ErrorBuilder) Build() *UnifiedError {
	return b.error
}

// ============================================================================
// CONVENIENCE CONSTRUCTORS
// ============================================================================

// Validation creates a validation error.
func Validation(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeValidation, code, message).
		WithSeverity(SeverityLow).
		WithRetryable(false)
}

// NotFound creates a not found error.
func NotFound(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeNotFound, code, message).
		WithSeverity(SeverityLow).
		WithRetryable(false)
}

// Conflict creates a conflict error.
func Conflict(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeConflict, code, message).
		WithSeverity(SeverityMedium).
		WithRetryable(true)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeUnauthorized, code, message).
		WithSeverity(SeverityMedium).
		WithRetryable(false)
}

// Forbidden creates a forbidden error.
func Forbidden(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeForbidden, code, message).
		WithSeverity(SeverityMedium).
		WithRetryable(false)
}

// Internal creates an internal error.
func Internal(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeInternal, code, message).
		WithSeverity(SeverityHigh).
		WithRetryable(false)
}

// Timeout creates a timeout error.
func Timeout(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeTimeout, code, message).
		WithSeverity(SeverityMedium).
		WithRetryable(true)
}

// Connection creates a connection error.
func Connection(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeConnection, code, message).
		WithSeverity(SeverityHigh).
		WithRetryable(true)
}

// External creates an external service error.
func External(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeExternal, code, message).
		WithSeverity(SeverityMedium).
		WithRetryable(true)
}

// Unavailable creates an error for a backend that refuses traffic, e.g. an open breaker.
func Unavailable(code, message string) *ErrorBuilder {
	return NewError(ErrorTypeUnavailable, code, message).
		WithSeverity(SeverityMedium).
		WithRetryable(true)
}

// ============================================================================
// ERROR CLASSIFICATION AND CHECKING
// ============================================================================

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var unifiedErr *UnifiedError
	if errors.As(err, &unifiedErr) {
		return unifiedErr.Type == errType
	}
	return false
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsUnauthorized checks if an error is an unauthorized error.
func IsUnauthorized(err error) bool {
	return IsType(err, ErrorTypeUnauthorized)
}

// IsForbidden checks if an error is a forbidden error.
func IsForbidden(err error) bool {
	return IsType(err, ErrorTypeForbidden)
}

// IsConnection checks if an error is a connection error.
func IsConnection(err error) bool {
	return IsType(err, ErrorTypeConnection)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

// IsUnavailable checks if an error is an availability error.
func IsUnavailable(err error) bool {
	return IsType(err, ErrorTypeUnavailable)
}

// IsBackendReported reports whether the backend understood the request and
// refused it. These are the errors surfaced to the user as banners.
func IsBackendReported(err error) bool {
	return IsValidation(err) || IsUnauthorized(err) || IsForbidden(err) ||
		IsNotFound(err) || IsConflict(err)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var unifiedErr *UnifiedError
	if errors.As(err, &unifiedErr) {
		return unifiedErr.Retryable
	}
	return false
}

// GetRetryAfter returns how long the error asks callers to wait, zero when
// it does not say.
func GetRetryAfter(err error) time.Duration {
	var unifiedErr *UnifiedError
	if errors.As(err, &unifiedErr) {
		return unifiedErr.RetryAfter
	}
	return 0
}

// GetSeverity returns the severity of an error.
func GetSeverity(err error) ErrorSeverity {
	var unifiedErr *UnifiedError
	if errors.As(err, &unifiedErr) {
		return unifiedErr.Severity
	}
	return SeverityMedium
}

// UserMessage returns the message to show in a banner. For non-unified errors
// the raw error text is used.
func UserMessage(err error) string {
	var unifiedErr *UnifiedError
	if errors.As(err, &unifiedErr) {
		return unifiedErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ============================================================================
// ERROR WRAPPING AND CONTEXT PRESERVATION
// ============================================================================

// Wrap wraps an existing error with additional context while preserving the original error chain.
func Wrap(err error, operation, message string) *UnifiedError {
	if err == nil {
		return nil
	}

	var existingErr *UnifiedError
	if errors.As(err, &existingErr) {
		return &UnifiedError{
			Type:       existingErr.Type,
			Code:       existingErr.Code,
			Message:    message,
			Details:    existingErr.Message,
			Operation:  operation,
			Resource:   existingErr.Resource,
			BoardID:    existingErr.BoardID,
			Severity:   existingErr.Severity,
			Retryable:  existingErr.Retryable,
			RetryAfter: existingErr.RetryAfter,
			Cause:      err,
			File:       existingErr.File,
			Line:       existingErr.Line,
		}
	}

	_, file, line, _ := runtime.Caller(1)
	return &UnifiedError{
		Type:      ErrorTypeInternal,
		Code:      CodeWrapped,
		Message:   message,
		Details:   err.Error(),
		Operation: operation,
		Severity:  SeverityMedium,
		Cause:     err,
		File:      file,
		Line:      line,
	}
}
