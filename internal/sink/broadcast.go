package sink

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/presence.report/internal/presence"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 64

// Broadcast fans events out to live subscribers. A subscriber that falls
// behind loses events rather than slowing the pipeline.
type Broadcast struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	buffer int

	dropped atomic.Uint64
}

// Subscription is one live event stream.
type Subscription struct {
	C <-chan presence.Event

	ch      chan presence.Event
	hub     *Broadcast
	once    sync.Once
	dropped atomic.Uint64
}

// NewBroadcast returns a hub whose subscribers buffer up to buffer events.
func NewBroadcast(buffer int) *Broadcast {
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcast{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a new subscriber. On a closed hub the returned
// subscription's channel is already closed.
func (b *Broadcast) Subscribe() *Subscription {
	ch := make(chan presence.Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Write delivers ev to every subscriber without blocking.
func (b *Broadcast) Write(ev presence.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of live subscribers.
func (b *Broadcast) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns the total number of undelivered events.
func (b *Broadcast) Dropped() uint64 { return b.dropped.Load() }

// Close ends every subscription.
func (b *Broadcast) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, sub)
	}
	return nil
}
