package testutil

import (
	"fmt"
	"sync"
)

// CountingRunIDGenerator generates run ids "<prefix>-1", "<prefix>-2", ...
//
// Unlike engine.FixedGenerator it never runs out, which suits scenarios
// with a variable number of passes. It satisfies engine.RunIDGenerator.
//
// Thread-safety: safe for concurrent use via internal mutex.
type CountingRunIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewCountingRunIDGenerator creates a generator. An empty prefix becomes "run".
func NewCountingRunIDGenerator(prefix string) *CountingRunIDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &CountingRunIDGenerator{prefix: prefix}
}

// Generate returns the next run id.
func (g *CountingRunIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *CountingRunIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
