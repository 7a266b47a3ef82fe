// Package bus provides in-process publish/subscribe for run events and
// commands.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Topic is a family of keyed channels carrying values of type T. Every
// subscriber of a key receives every value published to that key after it
// subscribed. Publish never blocks: a subscriber whose buffer is full is
// treated as gone and its channel is closed.
type Topic[T any] struct {
	name   string
	buffer int

	mu   sync.RWMutex
	subs map[string]map[string]*Subscription[T]

	delivered atomic.Int64
	evicted   atomic.Int64
}

// Subscription is one subscriber's stream on a topic key.
type Subscription[T any] struct {
	ID  string
	Key string

	ch     chan T
	topic  *Topic[T]
	closed bool // guarded by topic.mu
}

// NewTopic creates an empty topic.
func NewTopic[T any](name string, buffer int) *Topic[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Topic[T]{
		name:   name,
		buffer: buffer,
		subs:   make(map[string]map[string]*Subscription[T]),
	}
}

// Subscribe attaches a new subscriber to key.
func (t *Topic[T]) Subscribe(key string) *Subscription[T] {
	sub := &Subscription[T]{
		ID:    uuid.New().String(),
		Key:   key,
		ch:    make(chan T, t.buffer),
		topic: t,
	}

	t.mu.Lock()
	if t.subs[key] == nil {
		t.subs[key] = make(map[string]*Subscription[T])
	}
	t.subs[key][sub.ID] = sub
	t.mu.Unlock()

	return sub
}

// Publish delivers v to every current subscriber of key and returns the
// number of subscribers that received it.
func (t *Topic[T]) Publish(key string, v T) int {
	var slow []*Subscription[T]
	delivered := 0

	t.mu.RLock()
	for _, sub := range t.subs[key] {
		select {
		case sub.ch <- v:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	t.mu.RUnlock()

	for _, sub := range slow {
		slog.Warn("subscriber buffer full, closing", "topic", t.name, "key", key, "subscription", sub.ID)
		t.evicted.Add(1)
		sub.Close()
	}
	t.delivered.Add(int64(delivered))
	return delivered
}

// SubscriberCount returns the number of subscribers attached to key.
func (t *Topic[T]) SubscriberCount(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs[key])
}

// Keys returns the number of keys with at least one subscriber.
func (t *Topic[T]) Keys() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Stats returns the delivery and eviction counters.
func (t *Topic[T]) Stats() (delivered, evicted int64) {
	return t.delivered.Load(), t.evicted.Load()
}

// C is the receive side of the subscription. It is closed when the
// subscription is closed, either by the subscriber or by eviction.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close detaches the subscriber and closes its channel. Safe to call more
// than once.
func (s *Subscription[T]) Close() {
	t := s.topic
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if subs, ok := t.subs[s.Key]; ok {
		delete(subs, s.ID)
		if len(subs) == 0 {
			delete(t.subs, s.Key)
		}
	}
	close(s.ch)
}
