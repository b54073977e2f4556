// Package relay defines the shared error taxonomy for the voice relay core.
package relay

import (
	"errors"
	"fmt"
)

// Error is the typed error used across the relay core.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on kind using the sentinel constructors below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind && (other.Message == "" || other.Message == e.Message)
}

// ErrorKind categorizes relay errors.
type ErrorKind string

const (
	// KindConnect: the transport could not be established.
	KindConnect ErrorKind = "connect_error"
	// KindNotConnected: a send was attempted on a closed or unopened transport.
	KindNotConnected ErrorKind = "not_connected_error"
	// KindClosed: the session was closed while an operation was pending.
	KindClosed ErrorKind = "closed"
	// KindMicrophoneAccess: the capture device was denied or unavailable.
	KindMicrophoneAccess ErrorKind = "microphone_access_error"
	// KindDecode: a malformed wire frame or audio payload.
	KindDecode ErrorKind = "decode_error"
	// KindSynthesis: one sentence chunk failed to synthesize. Non-fatal.
	KindSynthesis ErrorKind = "synthesis_error"
	// KindToolExecution: the host tool callback failed. Reported in-band.
	KindToolExecution ErrorKind = "tool_execution_error"
	// KindUnknownTool: the model asked for a tool the host does not have.
	KindUnknownTool ErrorKind = "unknown_tool_error"
	// KindServer: the relay server reported an in-band error frame. Non-fatal.
	KindServer ErrorKind = "server_error"
)

// NewConnectError reports a failed dial/handshake.
func NewConnectError(message string, cause error) *Error {
	return &Error{Kind: KindConnect, Message: message, Cause: cause}
}

// NewNotConnectedError reports a send on a transport that is not open.
func NewNotConnectedError(message string) *Error {
	return &Error{Kind: KindNotConnected, Message: message}
}

// NewClosedError reports an operation unblocked by session teardown.
func NewClosedError(message string) *Error {
	return &Error{Kind: KindClosed, Message: message}
}

// NewMicrophoneAccessError reports a failed capture-device acquisition.
func NewMicrophoneAccessError(message string, cause error) *Error {
	return &Error{Kind: KindMicrophoneAccess, Message: message, Cause: cause}
}

// NewDecodeError reports a malformed frame. Param names the offending field.
func NewDecodeError(message, param string) *Error {
	return &Error{Kind: KindDecode, Message: message, Param: param}
}

// NewSynthesisError reports a failed synthesis for one sentence chunk.
func NewSynthesisError(message string, cause error) *Error {
	return &Error{Kind: KindSynthesis, Message: message, Cause: cause}
}

// NewToolExecutionError wraps a host tool callback failure.
func NewToolExecutionError(message string, cause error) *Error {
	return &Error{Kind: KindToolExecution, Message: message, Cause: cause}
}

// NewServerError reports an error frame received from the relay server.
func NewServerError(message string) *Error {
	return &Error{Kind: KindServer, Message: message}
}

// NewUnknownToolError reports a tool name the host does not recognize.
func NewUnknownToolError(name string) *Error {
	return &Error{Kind: KindUnknownTool, Message: "unknown tool", Param: name}
}

// IsFatal reports whether an error kind terminates the session.
// Per-event errors (decode, synthesis, a single tool call) are contained.
func IsFatal(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	switch re.Kind {
	case KindConnect, KindNotConnected, KindMicrophoneAccess, KindClosed:
		return true
	default:
		return false
	}
}
