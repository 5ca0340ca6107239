package testutil

import (
	"fmt"
	"sync"
)

// FixedIDs generates UUID-shaped ids from a counter:
//
//	00000000-0000-7000-8000-000000000001
//	00000000-0000-7000-8000-000000000002
//
// The ids parse as valid UUIDs, so code that rejects malformed operation ids
// accepts them, while golden traces stay byte-identical across runs.
//
// Thread-safety: safe for concurrent use.
type FixedIDs struct {
	mu sync.Mutex
	n  uint64
}

// NewFixedIDs creates a generator whose first id ends in 1.
func NewFixedIDs() *FixedIDs {
	return &FixedIDs{}
}

// NewID returns the next id. Implements equipment.IDGenerator.
func (g *FixedIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", g.n)
}

// Reset restarts the sequence.
func (g *FixedIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
