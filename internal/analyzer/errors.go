package analyzer

import (
	"errors"
	"fmt"
)

// Standard errors returned by the analyzer client.
var (
	// ErrNotReady indicates an operation was attempted before the
	// initialization handshake completed.
	ErrNotReady = errors.New("analyzer client not ready")

	// ErrAlreadyStarted indicates the client is already running.
	ErrAlreadyStarted = errors.New("analyzer client already started")

	// ErrConnectionClosed indicates the backend process died or the
	// session was torn down while requests were in flight.
	ErrConnectionClosed = errors.New("analyzer connection closed")

	// ErrNotSupported indicates the backend does not advertise the
	// capability needed for the requested operation.
	ErrNotSupported = errors.New("capability not supported by analyzer")

	// ErrProcessNotStarted is returned for operations that require a
	// running backend process.
	ErrProcessNotStarted = errors.New("analyzer process not started")
)

// FramingError indicates the Content-Length framed stream is
// desynchronized. It is fatal to the session: the byte stream cannot be
// safely resumed once a frame boundary is lost.
type FramingError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("framing error: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *FramingError) Unwrap() error {
	return e.Err
}

// SpawnError indicates the backend executable could not be launched.
type SpawnError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// StartupError indicates the initialization handshake was rejected or
// failed. Fatal to Start; the process is torn down before it is returned.
type StartupError struct {
	Err error
}

// Error implements the error interface.
func (e *StartupError) Error() string {
	return fmt.Sprintf("analyzer startup: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StartupError) Unwrap() error {
	return e.Err
}

// FileAccessError indicates a document could not be read from disk for
// synchronization. Recoverable: the caller may fix the path and retry.
type FileAccessError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *FileAccessError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileAccessError) Unwrap() error {
	return e.Err
}

// RPCError represents a well-formed error response from the backend.
// The backend's message is preserved verbatim. Recoverable: the request
// that produced it is isolated from all other in-flight requests.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)
