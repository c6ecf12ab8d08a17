package wire

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced uniformly as Response{Type: RespError, Message}.
// Sentinel errors are compared with errors.Is; CodeError carries the kind
// through call sites that need to branch on it (the WebSocket listener's
// Unauthorized → HTTP 401 mapping, for instance).
var (
	ErrNotFound           = errors.New("not found")
	ErrNotRunning         = errors.New("not running")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrBusy               = errors.New("busy")
	ErrTransportProtocol  = errors.New("transport protocol error")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal error")
)

// CodeError pairs one of the sentinel kinds above with a human-readable
// message, so the dispatcher can format Response{Type:RespError} uniformly
// while transport code can still branch on the kind via errors.Is.
type CodeError struct {
	Kind    error
	Message string
}

func (e *CodeError) Error() string { return e.Message }

func (e *CodeError) Unwrap() error { return e.Kind }

// NotFound builds a CodeError naming the missing session id.
func NotFound(id uint32) error {
	return &CodeError{Kind: ErrNotFound, Message: fmt.Sprintf("session %d not found", id)}
}

func NotRunning(id uint32, status string) error {
	return &CodeError{Kind: ErrNotRunning, Message: fmt.Sprintf("session %d is %s", id, status)}
}

func InvalidCommand(reason string) error {
	return &CodeError{Kind: ErrInvalidCommand, Message: reason}
}

func Busy(id uint32) error {
	return &CodeError{Kind: ErrBusy, Message: fmt.Sprintf("session %d input queue is full", id)}
}

func Internal(err error) error {
	return &CodeError{Kind: ErrInternal, Message: err.Error()}
}

// Message extracts the text to place in Response.Message for any error,
// falling back to err.Error() for errors not produced by this package.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
