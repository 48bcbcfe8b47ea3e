// Package clock is the one-shot timer primitive used by the drift scheduler.
//
// Real wraps time.AfterFunc. Fake is a manually advanced clock for tests:
// callbacks run synchronously on the goroutine calling Advance.
package clock

import "time"

// Timer is a cancellable handle for a pending callback.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran (or is running) or the timer was stopped before.
	Stop() bool
}

// Clock schedules one-shot callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
