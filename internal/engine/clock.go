package engine

import "time"

// Clock abstracts wall time and one-shot timers for the scheduler.
//
// AfterFunc must run f on its own goroutine (or, for test clocks, from
// whatever goroutine advances time) and never block the caller. The returned
// stop function cancels the timer; it reports false if f already started
// or the timer was already stopped.
//
// Implemented by SystemClock (production) and testutil.ManualClock (tests).
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// SystemClock is the real-time Clock backed by package time.
//
// Thread-safety: stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f via time.AfterFunc.
func (SystemClock) AfterFunc(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, f)
	return t.Stop
}
