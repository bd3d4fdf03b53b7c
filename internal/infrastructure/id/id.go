package id

import "github.com/google/uuid"

type Generator interface {
	NewID() string
}

// UUID issues random (version 4) identifiers for cart items and orders.
type UUID struct{}

func (UUID) NewID() string { return uuid.NewString() }

// OrDefault returns g, or UUID when g is nil.
func OrDefault(g Generator) Generator {
	if g == nil {
		return UUID{}
	}
	return g
}
