package client

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into one call of fn. The call
// happens once triggers stop for wait, and no later than maxWait after the
// first trigger of a burst. fn reads current state when it runs, so the last
// trigger always wins.
type Debouncer struct {
	wait    time.Duration
	maxWait time.Duration
	fn      func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	first   time.Time
	gen     uint64
}

func NewDebouncer(wait, maxWait time.Duration, fn func()) *Debouncer {
	if maxWait < wait {
		maxWait = wait
	}
	return &Debouncer{wait: wait, maxWait: maxWait, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if !d.pending {
		d.pending = true
		d.first = now
	}
	delay := d.wait
	if limit := d.first.Add(d.maxWait).Sub(now); limit < delay {
		delay = limit
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.fn()
}

// Cancel drops the pending call, if any, and reports whether there was one.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.pending
	d.pending = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	return was
}

// Flush runs the pending call now, on the caller's goroutine.
func (d *Debouncer) Flush() {
	if d.Cancel() {
		d.fn()
	}
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
