// Package uuid generates run and review entry identifiers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Time returns the creation time embedded in a v7 id.
func Time(id string) (time.Time, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id: %w", err)
	}
	if parsed.Version() != 7 {
		return time.Time{}, fmt.Errorf("id %s is version %d, not 7", id, parsed.Version())
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}
