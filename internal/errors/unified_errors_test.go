package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifiedError_Creation(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() *UnifiedError
		expected *UnifiedError
	}{
		{
			name: "validation error",
			builder: func() *UnifiedError {
				return Validation(CodeContentTooShort, "Content too short.").
					WithResource("text-5").
					Build()
			},
			expected: &UnifiedError{
				Type:      ErrorTypeValidation,
				Code:      CodeContentTooShort,
				Message:   "Content too short.",
				Resource:  "text-5",
				Severity:  SeverityLow,
				Retryable: false,
			},
		},
		{
			name: "retryable timeout",
			builder: func() *UnifiedError {
				return Timeout(CodeRequestTimeout, "poll timed out").
					WithRetryAfter(time.Second).
					Build()
			},
			expected: &UnifiedError{
				Type:       ErrorTypeTimeout,
				Code:       CodeRequestTimeout,
				Message:    "poll timed out",
				Severity:   SeverityMedium,
				Retryable:  true,
				RetryAfter: time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.builder()

			assert.Equal(t, tt.expected.Type, err.Type)
			assert.Equal(t, tt.expected.Code, err.Code)
			assert.Equal(t, tt.expected.Message, err.Message)
			assert.Equal(t, tt.expected.Resource, err.Resource)
			assert.Equal(t, tt.expected.Severity, err.Severity)
			assert.Equal(t, tt.expected.Retryable, err.Retryable)
			assert.Equal(t, tt.expected.RetryAfter, err.RetryAfter)
			assert.NotEmpty(t, err.File)
		})
	}
}

func TestWrap_PreservesChain(t *testing.T) {
	root := fmt.Errorf("dial tcp: connection refused")
	conn := Connection(CodeRequestFailed, "backend unreachable").WithCause(root).Build()

	wrapped := Wrap(conn, "poll", "poll failed")
	require.NotNil(t, wrapped)

	assert.Equal(t, ErrorTypeConnection, wrapped.Type)
	assert.Equal(t, "backend unreachable", wrapped.Details)
	assert.True(t, errors.Is(wrapped, root))
	assert.True(t, IsConnection(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.Zero(t, GetRetryAfter(wrapped))

	open := Unavailable(CodeBreakerOpen, "backend temporarily unavailable").WithRetryAfter(30 * time.Second).Build()
	assert.Equal(t, 30*time.Second, GetRetryAfter(Wrap(open, "poll", "poll failed")))
	assert.Zero(t, GetRetryAfter(root))

	plain := Wrap(root, "poll", "poll failed")
	assert.Equal(t, ErrorTypeInternal, plain.Type)
	assert.Equal(t, CodeWrapped, plain.Code)

	assert.Nil(t, Wrap(nil, "poll", "nothing"))
}

func TestFromBackendMessage(t *testing.T) {
	tests := []struct {
		message  string
		code     string
		isBanner bool
		check    func(error) bool
	}{
		{"This board is locked for edit by another user.", CodeBoardLocked, true, IsConflict},
		{"This board has expired. You cannot make any changes.", CodeBoardFinished, true, IsForbidden},
		{"Content too short.", CodeContentTooShort, true, IsValidation},
		{"Your priviliges do not allow you to post to this board.", CodeInsufficientPrivs, true, IsForbidden},
		{"User not found.", CodeUserNotFound, true, IsNotFound},
		{"database is locked for writing", CodeBoardLocked, true, IsConflict},
		{"something odd", CodeBackendRejected, true, IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			err := FromBackendMessage("create", tt.message)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.message, err.Message)
			assert.Equal(t, "create", err.Operation)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.isBanner, IsBackendReported(err))
		})
	}
}

func TestFromHTTPStatus(t *testing.T) {
	assert.True(t, IsUnauthorized(FromHTTPStatus("poll", http.StatusUnauthorized)))
	assert.True(t, IsNotFound(FromHTTPStatus("poll", http.StatusNotFound)))
	assert.True(t, IsType(FromHTTPStatus("poll", http.StatusBadGateway), ErrorTypeExternal))
	assert.True(t, IsRetryable(FromHTTPStatus("poll", http.StatusServiceUnavailable)))
	assert.False(t, IsBackendReported(FromHTTPStatus("poll", http.StatusInternalServerError)))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Content too short.", UserMessage(FromBackendMessage("edit", "Content too short.")))
	assert.Equal(t, "boom", UserMessage(fmt.Errorf("boom")))
	assert.Equal(t, "", UserMessage(nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation(CodeEmptyContent, "empty").Build(), http.StatusBadRequest},
		{Forbidden(CodeNotEditable, "no").Build(), http.StatusForbidden},
		{NotFound(CodeNotRegistered, "gone").Build(), http.StatusNotFound},
		{Conflict(CodeBoardLocked, "zed is editing...").Build(), http.StatusConflict},
		{Timeout(CodeRequestTimeout, "slow").Build(), http.StatusGatewayTimeout},
		{Connection(CodeRequestFailed, "refused").Build(), http.StatusBadGateway},
		{Unavailable(CodeBreakerOpen, "open").Build(), http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", Conflict(CodeBoardLocked, "x").Build()), http.StatusConflict},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}
