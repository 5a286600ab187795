package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a DeterministicClock.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe time source for tests that advances
// by a fixed step on every call, so message timestamps are reproducible
// and strictly increasing.
type DeterministicClock struct {
	mu   sync.Mutex
	n    int64
	step time.Duration
}

// NewDeterministicClock creates a clock whose first Now() returns
// Epoch + step.
func NewDeterministicClock(step time.Duration) *DeterministicClock {
	if step <= 0 {
		step = time.Millisecond
	}
	return &DeterministicClock{step: step}
}

// Now advances the clock and returns the new instant.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return Epoch.Add(time.Duration(c.n) * c.step)
}

// Current returns the last instant returned by Now, or Epoch.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Epoch.Add(time.Duration(c.n) * c.step)
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
