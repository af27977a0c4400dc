// Package util provides utility functions for refilltrack.
package util

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator hands out time-ordered UUIDv7 identifiers for refill events.
type IDGenerator struct {
	mu   sync.Mutex
	last string
}

// NewIDGenerator creates a new ID generator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// NewID generates a new UUIDv7 identifier from this generator.
// Falls back to a random UUIDv4 if the v7 source fails.
func (g *IDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		g.last = uuid.New().String()
		return g.last
	}
	g.last = id.String()
	return g.last
}

var generator = NewIDGenerator()

// NewID generates a new UUIDv7 identifier.
// UUIDv7 keeps refill events roughly ordered by creation time in the database.
func NewID() string {
	return generator.NewID()
}

// ParseID validates and parses a UUID string.
func ParseID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid ID format: %w", err)
	}
	return id.String(), nil
}

// IsValidID checks if a string is a valid UUID format.
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// DeterministicID generates a deterministic ID for testing purposes.
// DO NOT use in production - use NewID() instead.
func DeterministicID(seed int64) string {
	var id uuid.UUID

	binary.BigEndian.PutUint64(id[0:8], uint64(seed))
	binary.BigEndian.PutUint64(id[8:16], uint64(seed*31))

	// Set version 4 and variant
	id[6] = (id[6] & 0x0F) | 0x40
	id[8] = (id[8] & 0x3F) | 0x80

	return id.String()
}
