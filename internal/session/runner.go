package session

import (
	"context"
	"sync"
	"time"
)

// Runner debounces requests into single runs. A request overwrites the
// pending slot and restarts the quiet period; when the period elapses the
// latest request runs. At most one run is in flight: a period that elapses
// during a run is remembered and produces exactly one follow-up run with the
// newest request once the current one returns. A request that arrives after
// such a period still waits out its own quiet period.
type Runner[T any] struct {
	delay time.Duration
	run   func(ctx context.Context, req T)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	timer    *time.Timer
	slot     *T
	running  bool
	deferred bool
	closed   bool
}

func NewRunner[T any](ctx context.Context, delay time.Duration, run func(ctx context.Context, req T)) *Runner[T] {
	ctx, cancel := context.WithCancel(ctx)
	r := &Runner[T]{delay: delay, run: run, ctx: ctx, cancel: cancel}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Trigger stores req as the pending request and restarts the quiet period.
func (r *Runner[T]) Trigger(req T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.slot = &req
	// the new timer drains the slot unless it elapses during the current run
	r.deferred = false
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, r.fire)
}

// Cancel drops the pending request. A run in flight is not interrupted.
func (r *Runner[T]) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.cond.Broadcast()
}

func (r *Runner[T]) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.slot = nil
	r.deferred = false
}

// Pending reports whether a request is waiting or running.
func (r *Runner[T]) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot != nil || r.running
}

// Flush runs the pending request now instead of waiting for the quiet
// period, then blocks until no run is in flight.
func (r *Runner[T]) Flush() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
	r.fire()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.running && !r.closed {
		r.cond.Wait()
	}
}

// Close drops the pending request, cancels the context of a run in flight
// and waits for it to return.
func (r *Runner[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.stopLocked()
	r.mu.Unlock()
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.running {
		r.cond.Wait()
	}
}

func (r *Runner[T]) fire() {
	r.mu.Lock()
	if r.closed || r.slot == nil {
		r.mu.Unlock()
		return
	}
	if r.running {
		r.deferred = true
		r.mu.Unlock()
		return
	}
	req := *r.slot
	r.slot = nil
	r.running = true
	r.mu.Unlock()

	for {
		r.run(r.ctx, req)

		r.mu.Lock()
		if !r.deferred || r.slot == nil || r.closed {
			r.deferred = false
			r.running = false
			r.cond.Broadcast()
			r.mu.Unlock()
			return
		}
		req = *r.slot
		r.slot = nil
		r.deferred = false
		r.mu.Unlock()
	}
}
