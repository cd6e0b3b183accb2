package testutil

import "sync"

// SimClock hands out ts_sim values for test events.
//
// ts_sim is a run-local logical counter, never wall-clock time, so tests can
// build event logs that are identical on every run. Reset lets one scenario
// be replayed with the same values.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SimClock struct {
	mu   sync.Mutex
	ts   int64
	step int64
}

// NewSimClock creates a clock whose first Tick returns start+step.
// A non-positive step defaults to 1.
func NewSimClock(start, step int64) *SimClock {
	if step <= 0 {
		step = 1
	}
	return &SimClock{ts: start, step: step}
}

// Tick advances the clock and returns the new ts_sim.
func (c *SimClock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts += c.step
	return c.ts
}

// Now returns the current ts_sim without advancing.
func (c *SimClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

// Reset rewinds the clock to start.
func (c *SimClock) Reset(start int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts = start
}
