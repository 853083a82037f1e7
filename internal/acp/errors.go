package acp

import (
	"errors"
	"fmt"
)

// JSON-RPC and ACP error codes (spec §3, §6.2).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeAuthRequired     = -32000
	CodeSessionNotFound  = -32001
	CodeSessionBusy      = -32002
	CodeResourceExhausted = -32003
)

// Kind is the internal error taxonomy (spec §7). Each kind maps to a
// well-defined JSON-RPC error code via Code().
type Kind string

const (
	KindValidation Kind = "validation"
	KindSession    Kind = "session"
	KindResource   Kind = "resource"
	KindProtocol   Kind = "protocol"
	KindBackend    Kind = "backend"
	KindInternal   Kind = "internal"
)

// Error is a bridge-internal error carrying a Kind (for propagation policy,
// spec §7) and, where applicable, the JSON-RPC code and message it maps to.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the JSON-RPC error code this error maps to.
func (e *Error) Code() int {
	switch e.Kind {
	case KindValidation:
		return CodeInvalidParams
	case KindSession:
		if errors.Is(e.Err, errSessionBusy) {
			return CodeSessionBusy
		}
		return CodeSessionNotFound
	case KindResource:
		return CodeResourceExhausted
	case KindProtocol:
		return CodeInvalidRequest
	case KindBackend:
		return CodeInternalError
	default:
		return CodeInternalError
	}
}

var errSessionBusy = errors.New("session busy")

// NewValidationError reports malformed params or configuration.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NewSessionNotFoundError reports a reference to an unknown session.
func NewSessionNotFoundError(sessionID string) *Error {
	return &Error{Kind: KindSession, Message: fmt.Sprintf("session not found: %s", sessionID)}
}

// NewSessionBusyError reports a concurrent prompt on a session with an
// in-flight turn (spec §4.7, invariant 2 in §8).
func NewSessionBusyError(sessionID string) *Error {
	return &Error{Kind: KindSession, Message: fmt.Sprintf("Session busy: %s", sessionID), Err: errSessionBusy}
}

// NewResourceExhaustedError reports admission denial by the resource guard.
func NewResourceExhaustedError(message string) *Error {
	return &Error{Kind: KindResource, Message: message}
}

// NewProtocolError reports a frame decode failure or protocol invariant violation.
func NewProtocolError(message string) *Error {
	return &Error{Kind: KindProtocol, Message: message}
}

// NewBackendError wraps an adapter failure. Per propagation policy (§7),
// callers decide whether to surface it in-band or as a method error.
func NewBackendError(message string, err error) *Error {
	return &Error{Kind: KindBackend, Message: message, Err: err}
}

// NewInternalError wraps an unexpected error.
func NewInternalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// AsError unwraps err into a *Error if possible, else wraps it as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternalError(err)
}
