package errors

import (
	stderrors "errors"
	"net/http"
	"strings"
)

// Board client error codes
const (
	// Backend-reported refusals
	CodeBoardLocked       = "BOARD_LOCKED"
	CodeBoardFinished     = "BOARD_FINISHED"
	CodeContentTooShort   = "CONTENT_TOO_SHORT"
	CodeInsufficientPrivs = "INSUFFICIENT_PRIVILEGES"
	CodeUserNotFound      = "USER_NOT_FOUND"
	CodeBackendRejected   = "BACKEND_REJECTED"

	// Local preconditions
	CodeNotEditable     = "NOT_EDITABLE"
	CodeNotRegistered   = "ELEMENT_NOT_REGISTERED"
	CodeElementNotFound = "ELEMENT_NOT_FOUND"
	CodeEmptyContent    = "CONTENT_EMPTY"

	// Boundary decoding
	CodeInvalidRecord   = "INVALID_RECORD"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeInvalidConfig   = "INVALID_CONFIG"

	// Transport
	CodeRequestFailed  = "REQUEST_FAILED"
	CodeRequestTimeout = "REQUEST_TIMEOUT"
	CodeBreakerOpen    = "BREAKER_OPEN"
	CodeHTTPStatus     = "HTTP_STATUS"

	// Local infrastructure
	CodeCacheFailure    = "CACHE_FAILURE"
	CodeSnapshotFailure = "SNAPSHOT_FAILURE"
	CodeViewerBacklog   = "VIEWER_BACKLOG"
	CodeViewerListen    = "VIEWER_LISTEN"
	CodeBadRequest      = "BAD_REQUEST"
	CodeWrapped         = "WRAP_ERROR"
)

// FromBackendMessage classifies the free-form `error` string the backend
// returns next to its "None" sentinel. The backend only reports refusals this
// way, so the result is always a banner-class error.
func FromBackendMessage(operation, message string) *UnifiedError {
	lower := strings.ToLower(message)

	var builder *ErrorBuilder
	switch {
	case strings.Contains(lower, "locked"):
		builder = Conflict(CodeBoardLocked, message)
	case strings.Contains(lower, "expired"):
		builder = Forbidden(CodeBoardFinished, message)
	case strings.Contains(lower, "too short"):
		builder = Validation(CodeContentTooShort, message)
	case strings.Contains(lower, "privil"):
		builder = Forbidden(CodeInsufficientPrivs, message)
	case strings.Contains(lower, "not found"):
		builder = NotFound(CodeUserNotFound, message)
	default:
		builder = Validation(CodeBackendRejected, message)
	}

	return builder.WithOperation(operation).Build()
}

// FromHTTPStatus maps a non-2xx status (the backend aborts with 401/404) to the taxonomy.
func FromHTTPStatus(operation string, status int) *UnifiedError {
	text := http.StatusText(status)

	var builder *ErrorBuilder
	switch {
	case status == http.StatusUnauthorized:
		builder = Unauthorized(CodeHTTPStatus, text)
	case status == http.StatusForbidden:
		builder = Forbidden(CodeHTTPStatus, text)
	case status == http.StatusNotFound:
		builder = NotFound(CodeHTTPStatus, text)
	case status == http.StatusTooManyRequests:
		builder = Unavailable(CodeHTTPStatus, text)
	case status >= 500:
		builder = External(CodeHTTPStatus, text)
	default:
		builder = Validation(CodeHTTPStatus, text)
	}

	return builder.WithOperation(operation).Build()
}

// HTTPStatus maps an error to the status the local viewer API answers with.
func HTTPStatus(err error) int {
	var ue *UnifiedError
	if !stderrors.As(err, &ue) {
		return http.StatusInternalServerError
	}
	switch ue.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeConnection, ErrorTypeExternal:
		return http.StatusBadGateway
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
