// Package idgen mints the opaque 128-bit ids every stored entity carries.
package idgen

import "github.com/google/uuid"

// ID is an opaque 128-bit entity identifier.
type ID = uuid.UUID

// New mints a fresh random id.
func New() ID {
	return uuid.New()
}

// Parse parses a canonical string form id.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// Nil is the zero-value id, never assigned to a real row.
var Nil = uuid.Nil
