package testutil

import (
	"slices"
	"sync"
	"time"
)

// ManualClock is a Clock whose time only moves when Advance is called.
//
// Timers registered with AfterFunc fire synchronously inside Advance, in
// fire-time order (registration order breaks ties). This makes delayed
// dispatch deterministic in tests: no sleeps, no goroutine scheduling.
//
// Thread-safety: All methods are safe for concurrent use. Callbacks run
// without the clock's lock held, so they may call Now or AfterFunc.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
	nextID int
}

type manualTimer struct {
	id int
	at time.Time
	f  func()
}

// DefaultEpoch is the start time used by NewManualClock when given the zero time.
var DefaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewManualClock creates a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock has advanced by d.
// The returned function removes the timer and reports whether it was still
// waiting.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	t := &manualTimer{id: c.nextID, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.remove(t)
	}
}

// Advance moves time forward by d, firing every timer that comes due.
// Each timer observes Now() equal to its own fire time.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.earliest()
		if next == nil || next.at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		c.remove(next)
		c.mu.Unlock()

		next.f()
	}
}

// Timers returns the number of timers still waiting.
func (c *ManualClock) Timers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// earliest returns the next timer to fire. Caller holds mu.
func (c *ManualClock) earliest() *manualTimer {
	var best *manualTimer
	for _, t := range c.timers {
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.id < best.id) {
			best = t
		}
	}
	return best
}

// remove drops t from the waiting list. Caller holds mu.
func (c *ManualClock) remove(t *manualTimer) bool {
	idx := slices.Index(c.timers, t)
	if idx < 0 {
		return false
	}
	c.timers = slices.Delete(c.timers, idx, idx+1)
	return true
}
