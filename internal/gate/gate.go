// Package gate provides the coalescing signal/wait primitive that decides
// when the responder loop runs.
//
// A Gate opens on the first Signal and closes when Wait actually has to
// block. onOpen/onClose fire at those edges, so callers can bracket an
// active period (a reply in flight) without tracking it themselves.
// Bursts of Signal calls before a Wait collapse into a single wake.
package gate

import (
	"context"
	"sync"
)

// Option configures a Gate.
type Option func(*Gate)

// WithOnOpen sets the callback fired on the not-open to open edge.
func WithOnOpen(fn func()) Option {
	return func(g *Gate) { g.onOpen = fn }
}

// WithOnClose sets the callback fired when Wait blocks on an open gate.
func WithOnClose(fn func()) Option {
	return func(g *Gate) { g.onClose = fn }
}

// Gate is safe for concurrent Signal calls from any goroutine. Wait must
// only be called by a single consumer.
//
// Callbacks run synchronously inside Signal/Wait, in transition order,
// and must not call back into the Gate.
type Gate struct {
	mu     sync.Mutex
	st     state
	waiter chan struct{}

	onOpen  func()
	onClose func()
}

// New creates a closed Gate with nothing pending.
func New(opts ...Option) *Gate {
	g := &Gate{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Signal marks work as ready. A suspended Wait is released immediately;
// otherwise the signal stays pending until the next Wait. Repeated
// signals before a Wait have the effect of one.
func (g *Gate) Signal() {
	g.mu.Lock()
	defer g.mu.Unlock()

	next, effects := g.st.signal()
	g.st = next
	g.apply(effects)
}

// Wait returns immediately if a signal is pending. Otherwise it closes
// the gate (firing onClose if it was open) and blocks until the next
// Signal or until ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	next, effects := g.st.wait()
	g.st = next
	g.apply(effects)
	ch := g.waiter
	g.mu.Unlock()

	if ch == nil {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		defer g.mu.Unlock()
		select {
		case <-ch:
			// Released concurrently with cancellation; the signal was consumed.
			return nil
		default:
		}
		g.st = g.st.abandon()
		g.waiter = nil
		return ctx.Err()
	}
}

// IsOpen reports whether the gate is between an open edge and the next close.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st.open
}

// Pending reports whether a signal is waiting to be consumed.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st.pending
}

// apply executes transition effects. Caller holds g.mu.
func (g *Gate) apply(effects []effect) {
	for _, e := range effects {
		switch e {
		case effectFireOpen:
			if g.onOpen != nil {
				g.onOpen()
			}
		case effectFireClose:
			if g.onClose != nil {
				g.onClose()
			}
		case effectRelease:
			if g.waiter != nil {
				close(g.waiter)
				g.waiter = nil
			}
		case effectSuspend:
			g.waiter = make(chan struct{})
		}
	}
}
