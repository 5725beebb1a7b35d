package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Kind is the closed set of error categories.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindServer       Kind = "server"
	KindAuth         Kind = "auth"
	KindValidation   Kind = "validation"
	KindSession      Kind = "session"
	KindFileSystem   Kind = "filesystem"
	KindData         Kind = "data"
	KindParse        Kind = "parse"
	KindTimeout      Kind = "timeout"
	KindConnection   Kind = "connection"
	KindNotConnected Kind = "not_connected"
	KindOther        Kind = "other"
)

// Error is a classified failure. Immutable after construction.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	// Status is set for KindServer errors.
	Status int `json:"status,omitempty"`
	// Field is set for KindValidation errors.
	Field string `json:"field,omitempty"`
	// SessionID is set for KindSession errors.
	SessionID string `json:"session_id,omitempty"`
	// Path is set for KindFileSystem errors.
	Path string `json:"path,omitempty"`
	// Operation is set for KindTimeout errors.
	Operation string `json:"operation,omitempty"`

	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	return e.UserMessage()
}

// UserMessage returns the user-facing rendering of the error, with
// technical detail stripped.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return fmt.Sprintf("Network error: %s", e.Message)
	case KindServer:
		switch {
		case e.Status == 400:
			return fmt.Sprintf("Invalid request: %s", e.Message)
		case e.Status == 401:
			return "Authentication required. Please check your API key."
		case e.Status == 403:
			return "Access denied. Please verify your permissions."
		case e.Status == 404:
			return fmt.Sprintf("Not found: %s", e.Message)
		case e.Status == 429:
			return "Too many requests. Please wait a moment and try again."
		case e.Status >= 500 && e.Status < 600:
			return fmt.Sprintf("Server error: %s", e.Message)
		default:
			return fmt.Sprintf("Server responded with error (%d): %s", e.Status, e.Message)
		}
	case KindAuth:
		return fmt.Sprintf("Authentication failed: %s", e.Message)
	case KindValidation:
		return fmt.Sprintf("Invalid %s: %s", e.Field, e.Message)
	case KindSession:
		return fmt.Sprintf("Session error: %s", e.Message)
	case KindFileSystem:
		return fmt.Sprintf("File error: %s", e.Message)
	case KindData:
		return fmt.Sprintf("Data error: %s", e.Message)
	case KindParse:
		return fmt.Sprintf("Parse error: %s", e.Message)
	case KindTimeout:
		return fmt.Sprintf("%s %s", e.Operation, e.Message)
	case KindConnection:
		return fmt.Sprintf("Connection error: %s", e.Message)
	case KindNotConnected:
		return fmt.Sprintf("Not connected: %s", e.Message)
	default:
		return e.Message
	}
}

// TechnicalDetails returns the diagnostic string retained for logs.
func (e *Error) TechnicalDetails() string {
	switch e.Kind {
	case KindValidation:
		return fmt.Sprintf("field: %s, message: %s", e.Field, e.Message)
	case KindSession:
		return fmt.Sprintf("session: %s, message: %s", e.SessionID, e.Message)
	case KindFileSystem:
		return fmt.Sprintf("path: %s, details: %s", e.Path, e.Details)
	case KindTimeout:
		return fmt.Sprintf("operation: %s, %s", e.Operation, e.Message)
	default:
		if e.Details != "" {
			return e.Details
		}
		return e.Message
	}
}

// IsRetryable reports whether the failure is worth retrying.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// RetryDelay returns the suggested delay before a retry, if any.
func (e *Error) RetryDelay() (time.Duration, bool) {
	if !e.Retryable || e.RetryAfter <= 0 {
		return 0, false
	}
	return e.RetryAfter, true
}

// Network builds a retryable transport-level error.
func Network(message, details string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindNetwork,
		Message:    message,
		Details:    details,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// FromHTTPStatus classifies a non-2xx response. 429 and 5xx are retryable
// with fixed suggested delays; everything else is terminal.
func FromHTTPStatus(status int, message, details string) *Error {
	e := &Error{
		Kind:    KindServer,
		Status:  status,
		Message: message,
		Details: details,
	}
	switch {
	case status == 429:
		e.Retryable = true
		e.RetryAfter = 60 * time.Second
	case status >= 500 && status < 600:
		e.Retryable = true
		e.RetryAfter = 5 * time.Second
	}
	return e
}

// Auth builds a non-retryable authentication error.
func Auth(message, details string) *Error {
	return &Error{Kind: KindAuth, Message: message, Details: details}
}

// Validation builds a non-retryable input validation error.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// Session builds a non-retryable session error.
func Session(sessionID, message string) *Error {
	return &Error{Kind: KindSession, SessionID: sessionID, Message: message}
}

// Connection builds a non-retryable connection lifecycle error.
func Connection(message string) *Error {
	return &Error{Kind: KindConnection, Message: message}
}

// NotConnected builds an error for operations attempted without a server.
func NotConnected(message string) *Error {
	return &Error{Kind: KindNotConnected, Message: message}
}

// Timeout builds a retryable timeout error with a 2s suggested delay.
func Timeout(operation string, timeout time.Duration) *Error {
	return &Error{
		Kind:       KindTimeout,
		Operation:  operation,
		Message:    fmt.Sprintf("timed out after %s", timeout),
		Retryable:  true,
		RetryAfter: 2 * time.Second,
	}
}

// FromTransport classifies an error from the HTTP transport layer.
func FromTransport(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout("HTTP request", 30*time.Second)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout("HTTP request", 30*time.Second)
	}
	return Network("failed to reach server", err.Error(), 2*time.Second)
}

// FromJSON classifies a body-decode failure. Never retryable.
func FromJSON(err error) *Error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Kind: KindParse, Message: "failed to parse response", Details: err.Error()}
	}
	return &Error{Kind: KindData, Message: "failed to decode data", Details: err.Error()}
}

// FromFS classifies a filesystem failure. Never retryable.
func FromFS(path string, err error) *Error {
	msg := "file system operation failed"
	if os.IsNotExist(err) {
		msg = "file not found"
	} else if os.IsPermission(err) {
		msg = "permission denied"
	}
	return &Error{Kind: KindFileSystem, Path: path, Message: msg, Details: err.Error()}
}

// Classify maps an arbitrary error to an *Error. Already-classified errors
// pass through unchanged; everything else becomes a non-retryable Other.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindOther, Message: err.Error()}
}

// IsRetryable reports whether err is a retryable classified error.
// Unclassified errors are treated as terminal.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
