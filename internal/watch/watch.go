// Package watch fans snapshot values out to subscribers keyed by document ID.
//
// Delivery is latest-value: a slow subscriber sees the newest snapshot and
// skips intermediate ones. Values arrive in publish order as long as the
// publishers of a key are serialized; Publish itself does not order
// concurrent callers.
package watch

import (
	"context"
	"sync"
)

// Subscription is a single listener on a key.
type Subscription[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Offer delivers v, replacing an undelivered older value.
func (s *Subscription[T]) Offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- v:
	default:
	}
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Hub tracks subscriptions per key.
type Hub[K comparable, T any] struct {
	mu   sync.Mutex
	subs map[K]map[*Subscription[T]]struct{}
}

// NewHub creates an empty hub.
func NewHub[K comparable, T any]() *Hub[K, T] {
	return &Hub[K, T]{
		subs: make(map[K]map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a listener on key until ctx is done.
func (h *Hub[K, T]) Subscribe(ctx context.Context, key K) *Subscription[T] {
	s := &Subscription[T]{ch: make(chan T, 1)}

	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*Subscription[T]]struct{})
		h.subs[key] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	context.AfterFunc(ctx, func() {
		h.remove(key, s)
	})
	return s
}

func (h *Hub[K, T]) remove(key K, s *Subscription[T]) {
	h.mu.Lock()
	if set, ok := h.subs[key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
	h.mu.Unlock()
	s.close()
}

// Publish offers v to every subscriber of key.
func (h *Hub[K, T]) Publish(key K, v T) {
	h.mu.Lock()
	targets := make([]*Subscription[T], 0, len(h.subs[key]))
	for s := range h.subs[key] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.Offer(v)
	}
}

// Keys returns the keys that currently have subscribers.
func (h *Hub[K, T]) Keys() []K {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]K, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	return keys
}

// Count returns the number of subscribers on key.
func (h *Hub[K, T]) Count(key K) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

// CloseAll ends every subscription.
func (h *Hub[K, T]) CloseAll() {
	h.mu.Lock()
	all := h.subs
	h.subs = make(map[K]map[*Subscription[T]]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for s := range set {
			s.close()
		}
	}
}
