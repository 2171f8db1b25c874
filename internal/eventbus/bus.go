// Package eventbus implements the in-process, best-effort publish/subscribe
// bus that fans run and security events out to control-plane subscribers.
//
// Ordering is total: seq is assigned under a single mutex at publish time, so
// no two events share a sequence number and none are skipped within a process
// lifetime. Backpressure is absorbed by dropping the oldest queued event for a
// slow subscriber rather than blocking the publisher — the bus never stalls
// the producer waiting on a reader.
package eventbus

import (
	"sync"

	"github.com/agw/gateway/internal/models"
)

// DefaultQueueCapacity is the default bound on a subscriber's pending queue.
const DefaultQueueCapacity = 1000

// Subscription is a bounded, ordered queue of events delivered to one
// control-plane connection. Two Subscriptions are always distinct even if
// created with identical parameters — the bus compares by identity.
type Subscription struct {
	bus    *Bus
	mu     sync.Mutex
	queue  []models.Event
	cap    int
	closed bool
	notify chan struct{}
}

// newSubscription allocates a queue with the given capacity (DefaultQueueCapacity if <= 0).
func newSubscription(bus *Bus, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Subscription{
		bus:    bus,
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// enqueue performs a non-blocking push. On overflow it drops the oldest
// queued event before enqueuing the new one; if the queue is still full
// after that (capacity 0, degenerate case) the new event is dropped instead.
func (s *Subscription) enqueue(evt models.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.cap {
		if s.cap == 0 {
			s.mu.Unlock()
			return
		}
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// next blocks until an event is available or the subscription closes,
// returning ok=false in the latter case.
func (s *Subscription) next() (models.Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			evt := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return evt, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return models.Event{}, false
		}
		<-s.notify
	}
}

// Close marks the subscription closed; pending iteration unblocks with ok=false.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Events returns a channel that yields events until the subscription is
// unsubscribed or closed, implementing the bus's lazy iter(sub) contract.
func (s *Subscription) Events() <-chan models.Event {
	out := make(chan models.Event)
	go func() {
		defer close(out)
		for {
			evt, ok := s.next()
			if !ok {
				return
			}
			out <- evt
		}
	}()
	return out
}

// Bus is the process-wide ordered sequence allocator and subscriber fan-out.
type Bus struct {
	seqMu sync.Mutex
	seq   int64

	subMu sync.Mutex
	subs  map[*Subscription]struct{}

	queueCapacity int
}

// New creates an empty Bus. queueCapacity <= 0 uses DefaultQueueCapacity.
func New(queueCapacity int) *Bus {
	return &Bus{
		subs:          make(map[*Subscription]struct{}),
		queueCapacity: queueCapacity,
	}
}

// NextSeq atomically increments and returns the bus's sequence counter.
func (b *Bus) NextSeq() int64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	b.seq++
	return b.seq
}

// Subscribe registers a new bounded-queue subscription.
func (b *Bus) Subscribe() *Subscription {
	sub := newSubscription(b, b.queueCapacity)
	b.subMu.Lock()
	b.subs[sub] = struct{}{}
	b.subMu.Unlock()
	return sub
}

// Unsubscribe closes sub and removes it from the fan-out set.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.subMu.Lock()
	delete(b.subs, sub)
	b.subMu.Unlock()
	sub.Close()
}

// Publish assigns the next sequence number to evt and fans it out to every
// live subscription. Publish never blocks on a slow subscriber. Callers that
// need evt durable before any subscriber can observe it (anything reachable
// from a control-plane connection) should go through a persisting sink
// instead and call FanOut once the write lands.
func (b *Bus) Publish(evt models.Event) models.Event {
	evt.Seq = b.NextSeq()
	b.FanOut(evt)
	return evt
}

// FanOut delivers evt to every live subscription without assigning a
// sequence number. It never blocks on a slow subscriber.
func (b *Bus) FanOut(evt models.Event) {
	b.subMu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.subMu.Unlock()

	for _, sub := range targets {
		sub.enqueue(evt)
	}
}
