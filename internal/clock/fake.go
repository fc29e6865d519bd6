package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Clock. Time stands still until Advance is
// called; AfterFunc callbacks whose deadline falls within the advanced
// window run synchronously in the caller's goroutine, in deadline order.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

// NewFake returns a Fake clock set to initial.
func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial}
}

// Now returns the current fake time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run once the clock is advanced past d.
// Non-positive durations still wait for the next Advance, which keeps
// callbacks off the registering goroutine.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.current.Add(d), f: f}
	c.waiters = append(c.waiters, t)
	return t
}

// Pending returns the number of timers that have neither fired nor
// been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and runs every due callback.
// Callbacks may register new timers; those fire in the same call if
// they are already due.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.waiters, func(i, j int) bool {
			return c.waiters[i].deadline.Before(c.waiters[j].deadline)
		})
		var next *fakeTimer
		live := c.waiters[:0]
		for _, w := range c.waiters {
			if w.stopped || w.fired {
				continue
			}
			live = append(live, w)
			if next == nil && !w.deadline.After(target) {
				next = w
			}
		}
		c.waiters = live
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
