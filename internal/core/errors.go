package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a run failed.
type ErrorKind string

const (
	KindConnection  ErrorKind = "ConnectionError"
	KindFileAccess  ErrorKind = "FileAccessError"
	KindEmptyFile   ErrorKind = "EmptyFileError"
	KindIdentifier  ErrorKind = "IdentifierError"
	KindSchema      ErrorKind = "SchemaError"
	KindLoad        ErrorKind = "LoadError"
	KindTransaction ErrorKind = "TransactionError"
	KindRequest     ErrorKind = "RequestError"
	KindCancelled   ErrorKind = "CancelledError"
	KindInternal    ErrorKind = "InternalError"
)

// Error is a failure with the context needed to act on it.
type Error struct {
	Kind  ErrorKind
	Stage State
	// Identifier is the table, column or file the failure concerns.
	Identifier string
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg += " during " + string(e.Stage)
	}
	if e.Identifier != "" {
		msg += fmt.Sprintf(" (%s)", e.Identifier)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindLoad})
// works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

func newError(kind ErrorKind, stage State, ident string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Identifier: ident, Err: err}
}

func errorf(kind ErrorKind, stage State, ident, format string, args ...any) *Error {
	return newError(kind, stage, ident, fmt.Errorf(format, args...))
}

// KindOf returns the kind of err, or "" when err is nil or untyped.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// classify wraps err as kind. An *Error keeps its own classification, and
// any error seen after the caller's context ended is reported as
// cancellation.
func classify(ctx context.Context, kind ErrorKind, stage State, ident string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if ctx.Err() != nil {
		return newError(KindCancelled, stage, ident, fmt.Errorf("%w: %v", context.Cause(ctx), err))
	}
	return newError(kind, stage, ident, err)
}
