// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"sync"
	"time"
)

// Clock is a manually driven clock for deterministic timing tests.
//
// Every call to Now returns the current instant and then moves the clock
// forward by the configured step, so loops bounded by elapsed time always
// terminate even when the measured operation takes no time at all.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a clock frozen at a fixed instant with no auto step.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// NewStepClock creates a clock that advances by step on every Now call.
func NewStepClock(step time.Duration) *Clock {
	c := NewClock()
	c.step = step

	return c
}

// Now returns the current instant, then applies the auto step.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now
	c.now = c.now.Add(c.step)

	return now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
