package obsws

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionClosed     = errors.New("obsws: connection closed")
	ErrProtocolViolation    = errors.New("obsws: protocol violation")
	ErrAuthenticationFailed = errors.New("obsws: authentication failed")
	ErrRequestRejected      = errors.New("obsws: request rejected")
	ErrTimeout              = errors.New("obsws: request timed out")
	ErrUnmatchedResponse    = errors.New("obsws: response matches no pending request")
	ErrDuplicateRequestID   = errors.New("obsws: request id already in flight")
)

// opUnknown marks a ProtocolError raised before the op could be read.
const opUnknown OpCode = -1

// TransportError is an I/O failure on the underlying connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("obsws: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a message the peer should never have sent. Every
// ProtocolError matches ErrProtocolViolation; Err names the specific kind
// (ErrUnmatchedResponse, ErrAuthenticationFailed) when there is one.
type ProtocolError struct {
	Op     OpCode
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	kind := ErrProtocolViolation
	if e.Err != nil {
		kind = e.Err
	}
	if e.Op == opUnknown {
		return fmt.Sprintf("%v: %s", kind, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", kind, e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocolViolation }

func violation(op OpCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// RequestError is a response whose requestStatus.result was false. It
// matches ErrRequestRejected.
type RequestError struct {
	Type    string
	ID      string
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("obsws: %s rejected with code %d", e.Type, e.Code)
	}
	return fmt.Sprintf("obsws: %s rejected with code %d: %s", e.Type, e.Code, e.Comment)
}

func (e *RequestError) Is(target error) bool { return target == ErrRequestRejected }

func rejection(r *RequestResponse) *RequestError {
	return &RequestError{Type: r.Type, ID: r.ID, Code: r.Status.Code, Comment: r.Status.Comment}
}
