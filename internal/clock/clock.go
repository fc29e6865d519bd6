// Package clock abstracts wall-clock time so timer-driven components
// can be tested deterministically.
package clock

import "time"

// Clock is the subset of the time package the daemon depends on.
type Clock interface {
	Now() time.Time

	// AfterFunc waits for d, then calls f in its own goroutine.
	// The returned Timer can cancel the pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending call created by AfterFunc.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call
	// was stopped before it fired.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
