// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package errors defines typed errors with categories for the execution engine and the
// liveness checker. Every failure that crosses the asynchronous boundary of the engine is
// converted into one of these kinds and attached to a final response, so consumers can branch
// on the category without inspecting driver-specific error types.
//
// Errors of the same kind compare equal under errors.Is, which makes the exported sentinels
// usable as match targets even when the concrete error carries a message and a cause.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// ConnectionNotOpen indicates a request against a connection that is not open.
	ConnectionNotOpen Kind = "connection_not_open"
	// AlreadyOpen indicates an attempt to open a connection twice.
	AlreadyOpen Kind = "already_open"
	// QueryExecution indicates a driver, transport or SQL error while running or fetching.
	QueryExecution Kind = "query_execution"
	// Cancelled is attached to the final response of a cancelled request.
	Cancelled Kind = "cancelled"
	// ProbeTimeout indicates a liveness probe exceeded its timeout.
	ProbeTimeout Kind = "probe_timeout"
	// InvalidRequest indicates a request with no connection or no SQL text.
	InvalidRequest Kind = "invalid_request"
	// EngineClosed indicates a submission to an engine that was closed.
	EngineClosed Kind = "engine_closed"
)

// Sentinels, one per kind, for use with errors.Is.
var (
	ErrConnectionNotOpen = New(ConnectionNotOpen, "connection is not open")
	ErrAlreadyOpen       = New(AlreadyOpen, "connection is already open")
	ErrQueryExecution    = New(QueryExecution, "query execution failed")
	ErrCancelled         = New(Cancelled, "execution was cancelled")
	ErrProbeTimeout      = New(ProbeTimeout, "validity probe timed out")
	ErrInvalidRequest    = New(InvalidRequest, "invalid execution request")
	ErrEngineClosed      = New(EngineClosed, "engine is closed")
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *E) Unwrap() error { return e.Err }

// Is reports whether target is an *E of the same kind.
func (e *E) Is(target error) bool {
	var t *E
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the kind of the first *E in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}
