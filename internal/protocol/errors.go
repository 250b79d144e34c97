package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a client-visible failure. Kinds are stable identifiers;
// the message is free-form text shown to the user.
type Kind string

const (
	KindAuth       Kind = "auth_error"
	KindValidation Kind = "validation_error"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindPrecond    Kind = "precondition"
	KindTransport  Kind = "transport_error"
	KindRuntime    Kind = "runtime_error"
	KindInternal   Kind = "internal_error"
)

// Error is a failure the dispatcher serializes to the client as
// {status:"error", message}. It never terminates the connection.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a classified client-visible error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to internal_error for
// anything that was not raised as a protocol.Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
