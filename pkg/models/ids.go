package models

import "github.com/google/uuid"

// NewID generates an opaque identifier.
func NewID() string {
	return uuid.NewString()
}

func newMessageID() string {
	return uuid.NewString()
}
