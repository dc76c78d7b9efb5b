// Package errkind defines the discriminated error kinds surfaced across
// transport, RPC, storage and pipeline boundaries.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a stable, stringified error discriminator suitable for crossing a
// transport boundary (queue.job.error, rpc response.error, ...).
type Kind string

const (
	TransportClosed      Kind = "TransportClosed"
	RpcTimeout           Kind = "RpcTimeout"
	QueryError           Kind = "QueryError"
	ProxyClosed          Kind = "ProxyClosed"
	ModelUnavailable     Kind = "ModelUnavailable"
	EmptyExtraction      Kind = "EmptyExtraction"
	CommitFailed         Kind = "CommitFailed"
	Cancelled            Kind = "Cancelled"
	SchemaMigrationFailed Kind = "SchemaMigrationFailed"
	conflictingFact      Kind = "ConflictingFact" // internal only, never surfaced
)

// Error wraps an underlying error with a stable Kind so callers can branch on
// discriminated values instead of string-matching messages.
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

// New builds a *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// conflictingFact marks a semantically opposing assertion. The fact resolver
// in internal/ingestion does not raise it: it detects an opposing fact from
// semanticMatch's return value and invalidates the older edge directly, so
// this kind never reaches a caller.
func newConflictingFact(message string) *Error {
	return &Error{Kind: conflictingFact, Message: message}
}

// NewConflictingFact is the exported constructor for this kind; there is no
// public Kind constant outside this file, so external packages cannot branch
// on it directly. Only this package's tests call it.
func NewConflictingFact(message string) *Error { return newConflictingFact(message) }
