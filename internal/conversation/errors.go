// ABOUTME: Error taxonomy for conversation failures with HTTP status mapping
// ABOUTME: The orchestrator is the single point that classifies raw upstream failures

package conversation

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced to the transport layer.
const (
	CodeServerBusy          = "server_busy"
	CodeThreadInitFailed    = "thread_init_failed"
	CodeMessageAppendFailed = "message_append_failed"
	CodeStreamFailed        = "stream_failed"
	CodeSessionNotFound     = "session_not_found"
	CodeEmptyMessage        = "empty_message"
)

// Error classifies a conversation failure. Message is safe to show to the
// user; the wrapped cause carries upstream detail for logs only.
type Error struct {
	Code       string
	HTTPStatus int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.cause
}

// AsError unwraps err into a conversation *Error, if it is one.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func errServerBusy(cause error) *Error {
	return &Error{
		Code:       CodeServerBusy,
		HTTPStatus: http.StatusServiceUnavailable,
		Message:    "Server busy. Please try again later.",
		cause:      cause,
	}
}

func errThreadInit(cause error) *Error {
	return &Error{
		Code:       CodeThreadInitFailed,
		HTTPStatus: http.StatusInternalServerError,
		Message:    "Unable to start the conversation. Please try again.",
		cause:      cause,
	}
}

func errMessageAppend(cause error) *Error {
	return &Error{
		Code:       CodeMessageAppendFailed,
		HTTPStatus: http.StatusInternalServerError,
		Message:    "Unable to process your message. Please try again.",
		cause:      cause,
	}
}

func errStreamFailed(cause error) *Error {
	return &Error{
		Code:       CodeStreamFailed,
		HTTPStatus: http.StatusInternalServerError,
		Message:    "Unable to generate a reply. Please try again.",
		cause:      cause,
	}
}

func errSessionNotFound() *Error {
	return &Error{
		Code:       CodeSessionNotFound,
		HTTPStatus: http.StatusNotFound,
		Message:    "Session not found.",
	}
}

func errEmptyMessage() *Error {
	return &Error{
		Code:       CodeEmptyMessage,
		HTTPStatus: http.StatusBadRequest,
		Message:    "Message is empty or invalid.",
	}
}
