// Package uuid wraps github.com/google/uuid with UUIDv7 as the default
// version, so ids sort by creation time in logs.
package uuid

import (
	"github.com/google/uuid"
)

type UUID = uuid.UUID

// NewRandom returns a new UUIDv7.
func NewRandom() (UUID, error) {
	return uuid.NewV7()
}

// New returns a new UUIDv7 and panics if generation fails.
func New() UUID {
	uuidv7, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return uuidv7
}

// Parse parses a UUID string.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

var Nil = uuid.Nil
