package searchbase

import (
	"github.com/google/uuid"
)

// IDGenerator produces a globally unique identifier for an entity about to
// be stored for the first time. The entity is passed as a seed; generators
// may ignore it.
type IDGenerator interface {
	Generate(seed Entity) string
}

// IDGeneratorFunc adapts a function to IDGenerator
type IDGeneratorFunc func(seed Entity) string

func (f IDGeneratorFunc) Generate(seed Entity) string { return f(seed) }

// UUIDGenerator issues UUIDv7 identifiers
type UUIDGenerator struct{}

func (UUIDGenerator) Generate(Entity) string { return NewID() }

// NewID generates a UUIDv7 (time-ordered) identifier.
// UUIDv7 sorts by creation time, which keeps index document ids and
// SCAN output roughly chronological.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fall back to UUIDv4 if NewV7 fails (extremely rare)
		id = uuid.New()
	}
	return id.String()
}

// IsValidID checks if a string is a valid UUID
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
