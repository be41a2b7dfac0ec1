package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs hands out "<prefix>-1", "<prefix>-2", ... for deterministic
// cycle and reminder identifiers.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next identifier.
//
// Implements engine.CycleIDGenerator.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Issued returns how many identifiers were handed out.
func (g *SequentialIDs) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
