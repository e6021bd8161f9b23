package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generator creates opaque IDs for ingestion runs.
type Generator interface {
	NewID() (string, error)
}

// RandomGenerator prefixes a UTC timestamp so run IDs sort by start time.
type RandomGenerator struct {
	prefix string
	now    func() time.Time
}

func NewRandomGenerator(prefix string) *RandomGenerator {
	return &RandomGenerator{prefix: prefix, now: time.Now}
}

func (g *RandomGenerator) NewID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	stamp := g.now().UTC().Format("20060102T150405")
	if g.prefix == "" {
		return stamp + "-" + hex.EncodeToString(buf), nil
	}
	return g.prefix + "-" + stamp + "-" + hex.EncodeToString(buf), nil
}
