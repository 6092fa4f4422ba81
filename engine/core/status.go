package core

import (
	"errors"
	"fmt"
)

// Status is the first field of every tool payload. Success statuses are set on
// the result structs; failure statuses travel as *Error values.
type Status string

const (
	StatusOK            Status = "ok"
	StatusCreated       Status = "created"
	StatusDeleted       Status = "deleted"
	StatusConnected     Status = "connected"
	StatusDisconnected  Status = "disconnected"
	StatusAlreadyExists Status = "already_exists"
	StatusNotFound      Status = "not_found"
	StatusConflict      Status = "conflict"
	StatusError         Status = "error"
)

// Error carries a non-ok status together with its user-facing message.
// Handlers encode it as {"status": ..., "message": ...} instead of failing the
// MCP call, so agents always receive a well-formed payload.
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Envelope is the serialized form of an Error.
type Envelope struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Envelope() Envelope {
	return Envelope{Status: e.Status, Message: e.Message}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Status: StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Status: StatusConflict, Message: fmt.Sprintf(format, args...)}
}

func AlreadyExistsf(format string, args ...any) *Error {
	return &Error{Status: StatusAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

func Failf(format string, args ...any) *Error {
	return &Error{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// AsEnvelope maps any error to its payload form. Plain errors become the
// generic error status.
func AsEnvelope(err error) Envelope {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Envelope()
	}
	return Envelope{Status: StatusError, Message: err.Error()}
}
