package wrapper

import (
	"errors"
	"fmt"
)

// Backend error codes carried in error frames and JSON error bodies.
const (
	CodeInvalidSession    = 1
	CodeUnsupportedFormat = 2
	CodeKeyUnavailable    = 3
	CodeNoInstance        = 4
	CodeRegionUnavailable = 5
)

var (
	ErrInvalidSession    = errors.New("wrapper: invalid session")
	ErrUnsupportedFormat = errors.New("wrapper: unsupported format")
	ErrKeyUnavailable    = errors.New("wrapper: key unavailable")
	ErrNoInstance        = errors.New("wrapper: no available instance")
	ErrRegionUnavailable = errors.New("wrapper: region unavailable")
	ErrBackend           = errors.New("wrapper: backend error")
	ErrUnavailable       = errors.New("wrapper: backend unreachable")
	ErrProtocol          = errors.New("wrapper: protocol violation")
)

// Error is a typed failure returned by the backend or its transport.
type Error struct {
	Code    int
	Op      string
	Message string
	kind    error
	cause   error
}

func (e *Error) Error() string {
	msg := e.kind.Error()
	if e.Op != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Op)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap exposes the sentinel and any transport cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Kind returns the sentinel this error matches.
func (e *Error) Kind() error { return e.kind }

func kindForCode(code int) error {
	switch code {
	case CodeInvalidSession:
		return ErrInvalidSession
	case CodeUnsupportedFormat:
		return ErrUnsupportedFormat
	case CodeKeyUnavailable:
		return ErrKeyUnavailable
	case CodeNoInstance:
		return ErrNoInstance
	case CodeRegionUnavailable:
		return ErrRegionUnavailable
	default:
		return ErrBackend
	}
}

// NewBackendError builds the typed error for a backend error code.
func NewBackendError(op string, code int, message string) *Error {
	return &Error{Code: code, Op: op, Message: message, kind: kindForCode(code)}
}

func unavailable(op string, cause error) *Error {
	return &Error{Op: op, Message: cause.Error(), kind: ErrUnavailable, cause: cause}
}

func protocolError(op, message string, cause error) *Error {
	return &Error{Op: op, Message: message, kind: ErrProtocol, cause: cause}
}
