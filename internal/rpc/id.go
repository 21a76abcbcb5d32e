package rpc

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator produces a monotonically increasing sequence of correlation
// ids, unique within the issuing session only; uniqueness across
// sessions is never required. A prefix distinguishes ids from different
// generators when logs from multiple sessions are interleaved.
type IDGenerator struct {
	prefix  string
	counter int64
}

// NewIDGenerator builds a generator that yields prefix+"1", prefix+"2", ...
func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix}
}

// Next returns the next id in the sequence. Safe for concurrent use.
func (g *IDGenerator) Next() string {
	n := atomic.AddInt64(&g.counter, 1)
	return fmt.Sprintf("%s%d", g.prefix, n)
}
