// Package testutil holds helpers shared by the scheduler and fsm tests.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the starting point of every ManualClock.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals

// ManualClock is a wall clock that only moves when told to. Its Now method
// can be passed wherever a func() time.Time is accepted.
//
// All methods are safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock set to Epoch.
func NewManualClock() *ManualClock {
	return &ManualClock{now: Epoch}
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d and returns the new reading.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)

	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

// Since returns the time elapsed since Epoch.
func (c *ManualClock) Since() time.Duration {
	return c.Now().Sub(Epoch)
}
