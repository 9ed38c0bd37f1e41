package types

import (
	"errors"
	"fmt"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

type ErrorKind string

const (
	KindDeviceNotFound ErrorKind = "DEVICE_NOT_FOUND"
	KindInvalidCommand ErrorKind = "INVALID_COMMAND"
	KindConnection     ErrorKind = "CONNECTION_ERROR"
	KindTimeout        ErrorKind = "TIMEOUT"
	KindProtocol       ErrorKind = "PROTOCOL_ERROR"
	KindConfiguration  ErrorKind = "CONFIGURATION_ERROR"
	KindIO             ErrorKind = "IO_ERROR"
)

// Error is the gateway error. Kind is matched by errors.Is against the
// Err* kind sentinels; Err carries the cause or a detail sentinel.
type Error struct {
	Kind    ErrorKind
	Message string
	// Input is the offending device payload for protocol errors.
	Input string
	Err   error
}

func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewProtocolError records the substring that could not be decoded.
func NewProtocolError(message, input string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: message, Input: input, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Input != "" {
		msg = fmt.Sprintf("%s (input %q)", msg, e.Input)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	// Kind sentinels have no message; match on kind alone.
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrDeviceNotFound = &Error{Kind: KindDeviceNotFound}
	ErrInvalidCommand = &Error{Kind: KindInvalidCommand}
	ErrConnection     = &Error{Kind: KindConnection}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrProtocol       = &Error{Kind: KindProtocol}
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrIO             = &Error{Kind: KindIO}
)

// Detail sentinels, wrapped inside an *Error.
var (
	ErrConnectTimeout = errors.New("connect timed out")
	ErrWriteTimeout   = errors.New("write timed out")
	ErrReadTimeout    = errors.New("no response before read timeout")
	ErrDeviceReported = errors.New("device reported an error")
	ErrNotConnected   = errors.New("not connected")
	ErrAdapterRetired = errors.New("adapter was replaced or removed")
)

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
