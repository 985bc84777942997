// Package relay implements the bounded hand-off between the acquisition and
// processing goroutines.
//
// A Relay is a fixed-capacity FIFO with one producer and one consumer. Push
// never blocks: when the relay is full the incoming item is discarded, so a
// slow consumer sheds load instead of growing memory or stalling capture.
// Pop blocks on a condition variable until an item arrives or the relay is
// closed.
package relay

import (
	"errors"
	"sync"
)

// DefaultCapacity absorbs a few frames of processing lag without adding
// noticeable end-to-end latency.
const DefaultCapacity = 5

// ErrClosed is reported by TryPop after Close.
var ErrClosed = errors.New("relay closed")

// Stats is a snapshot of relay counters.
type Stats struct {
	Capacity  int    `json:"capacity"`
	Len       int    `json:"len"`
	Pushed    uint64 `json:"pushed"`
	Dropped   uint64 `json:"dropped"`  // discarded because the relay was full
	Rejected  uint64 `json:"rejected"` // pushed after Close
	Popped    uint64 `json:"popped"`
	Discarded uint64 `json:"discarded"` // still queued when the relay closed
	HighWater int    `json:"high_water"`
	Closed    bool   `json:"closed"`
}

// Relay is a bounded FIFO of T. The zero value is not usable; use New.
type Relay[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	buf   []T // ring buffer, len == capacity
	head  int
	count int

	closed bool
	stats  Stats
}

// New returns a Relay holding at most capacity items. Capacities below one
// are raised to one.
func New[T any](capacity int) *Relay[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &Relay[T]{buf: make([]T, capacity)}
	r.cond = sync.NewCond(&r.mu)
	r.stats.Capacity = capacity
	return r
}

// Push enqueues item if there is room. It reports whether the item was
// accepted; false means it was dropped (full) or rejected (closed).
func (r *Relay[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.stats.Rejected++
		return false
	}
	if r.count == len(r.buf) {
		r.stats.Dropped++
		return false
	}

	r.buf[(r.head+r.count)%len(r.buf)] = item
	r.count++
	r.stats.Pushed++
	if r.count > r.stats.HighWater {
		r.stats.HighWater = r.count
	}

	r.cond.Signal()
	return true
}

// Pop blocks until an item is available or the relay is closed. ok is false
// once the relay has been closed; items still queued at that point are
// discarded rather than delivered.
func (r *Relay[T]) Pop() (item T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return item, false
	}
	return r.take(), true
}

// TryPop returns the oldest item without blocking. ok is false when the relay
// is empty; err is ErrClosed after Close.
func (r *Relay[T]) TryPop() (item T, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return item, false, ErrClosed
	}
	if r.count == 0 {
		return item, false, nil
	}
	return r.take(), true, nil
}

// take removes the head item. Caller holds r.mu and has checked count > 0.
func (r *Relay[T]) take() T {
	var zero T
	item := r.buf[r.head]
	r.buf[r.head] = zero // release reference for GC
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	r.stats.Popped++
	return item
}

// Close stops the relay and wakes every blocked Pop. It is idempotent.
func (r *Relay[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.stats.Discarded += uint64(r.count)
	r.count = 0
	r.head = 0

	r.cond.Broadcast()
}

// Len returns the number of queued items.
func (r *Relay[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Relay[T]) Cap() int {
	return len(r.buf)
}

// Closed reports whether Close has been called.
func (r *Relay[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Stats returns a snapshot of the relay counters.
func (r *Relay[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Len = r.count
	s.Closed = r.closed
	return s
}
