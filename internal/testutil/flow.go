package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator hands out predictable provisional tanda ids.
//
// Ids are "local_test-1", "local_test-2", ... so golden traces and merge
// assertions stay byte-identical between runs.
//
// Thread-safety: FixedIDGenerator is safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewFixedIDGenerator creates a generator producing "local_<prefix>-N".
// An empty prefix defaults to "test".
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "test"
	}
	return &FixedIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements tanda.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("local_%s-%d", g.prefix, g.next)
}
