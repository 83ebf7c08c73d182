// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Version selects the UUID layout produced by a Generator.
type Version int

// Supported versions. V4 is random; V7 is time-ordered.
const (
	V4 Version = 4
	V7 Version = 7
)

// Generator creates UUID strings for pages and chunks.
type Generator struct {
	version Version
}

// New creates a Generator producing random (v4) UUIDs.
func New() *Generator {
	return &Generator{version: V4}
}

// NewWithVersion creates a Generator for the given version.
func NewWithVersion(v Version) (*Generator, error) {
	if v != V4 && v != V7 {
		return nil, fmt.Errorf("unsupported uuid version %d", v)
	}
	return &Generator{version: v}, nil
}

// NewID returns a UUID string.
func (g *Generator) NewID() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	if g.version == V7 {
		id, err = uuid.NewV7()
	} else {
		id, err = uuid.NewRandom()
	}
	if err != nil {
		return "", fmt.Errorf("generate uuid%d: %w", g.version, err)
	}
	return id.String(), nil
}
