// Package debounce collapses bursts of triggers into a single delayed call.
package debounce

import (
	"sync"
	"time"
)

// Token identifies one scheduled call. Only the most recent token may fire.
type Token uint64

// Debouncer runs fn once after a quiet period with no new triggers.
//
// Every Trigger issues a new token and invalidates the previous one, so a
// timer that was already firing when a newer trigger arrived becomes a no-op.
type Debouncer struct {
	mu      sync.Mutex
	quiet   time.Duration
	timer   *time.Timer
	current Token
	pending bool
	closed  bool
	fn      func()
}

// New creates a debouncer with the given quiet period
func New(quiet time.Duration, fn func()) *Debouncer {
	return &Debouncer{
		quiet: quiet,
		fn:    fn,
	}
}

// Trigger schedules fn and cancels any pending call
func (d *Debouncer) Trigger() Token {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0
	}

	d.current++
	d.pending = true
	token := d.current

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() { d.Fire(token) })
	return token
}

// Fire runs fn if token is still the current pending token.
// Returns true when fn was called.
func (d *Debouncer) Fire(token Token) bool {
	d.mu.Lock()
	if d.closed || !d.pending || token != d.current {
		d.mu.Unlock()
		return false
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
	return true
}

// Pending reports whether a call is scheduled
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// latest returns the most recently issued token
func (d *Debouncer) latest() Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Close cancels any pending call. Later triggers are ignored.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
