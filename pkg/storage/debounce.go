package storage

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSaveDelay is the quiet period used when coalescing save requests.
const DefaultSaveDelay = 300 * time.Millisecond

// Debouncer coalesces rapid save requests into a single deferred write.
// The flush callback reads state fresh at write time, so every caller's data
// is included in the final write even when its own request was superseded.
type Debouncer struct {
	delay time.Duration
	flush func() error

	mu      sync.Mutex
	timer   *time.Timer
	waiters []chan error
	closed  bool
}

// NewDebouncer builds a debouncer around flush. A non-positive delay falls
// back to DefaultSaveDelay.
func NewDebouncer(delay time.Duration, flush func() error) *Debouncer {
	if delay <= 0 {
		delay = DefaultSaveDelay
	}
	return &Debouncer{delay: delay, flush: flush}
}

// Save schedules a flush after the quiet period, resetting the timer if one
// is already pending. The returned channel resolves with the result of the
// write that eventually covers this request.
func (d *Debouncer) Save() <-chan error {
	ch := make(chan error, 1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		ch <- nil
		return ch
	}
	d.waiters = append(d.waiters, ch)
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
	} else {
		d.timer.Reset(d.delay)
	}
	return ch
}

// Flush cancels any pending timer and writes immediately, resolving all
// outstanding waiters.
func (d *Debouncer) Flush() error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()

	err := d.flush()
	for _, ch := range waiters {
		ch <- err
	}
	return err
}

// Close flushes any pending write and stops the debouncer. Subsequent Save
// calls resolve immediately without writing.
func (d *Debouncer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := d.timer != nil || len(d.waiters) > 0
	d.mu.Unlock()
	if pending {
		return d.Flush()
	}
	return nil
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()

	err := d.flush()
	if err != nil {
		// Best-effort persistence: the error reaches waiters but must not
		// take the service down.
		zap.L().Warn("debounced save failed", zap.Error(err))
	}
	for _, ch := range waiters {
		ch <- err
	}
}
