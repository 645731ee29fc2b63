// Package hub fans snapshots out to subscribers keyed by topic. Each
// subscriber owns a single-slot mailbox: a new snapshot replaces an unread
// one, so a slow reader never blocks publishers and never sees stale state
// after catching up.
package hub

import (
	"context"
	"sync"
)

// Hub is a topic-keyed snapshot broadcaster. The zero value is not usable;
// call [New].
type Hub[T any] struct {
	mu     sync.Mutex
	topics map[string]map[*mailbox[T]]struct{}
	closed bool
}

type mailbox[T any] struct {
	ch chan T
}

// offer replaces any unread value with v. Only publishers holding the hub
// lock send, so the send below never blocks.
func (m *mailbox[T]) offer(v T) {
	select {
	case <-m.ch:
	default:
	}
	m.ch <- v
}

// New returns an empty hub.
func New[T any]() *Hub[T] {
	return &Hub[T]{topics: make(map[string]map[*mailbox[T]]struct{})}
}

// Subscribe registers a subscriber on key whose mailbox starts with initial.
// The channel is closed when ctx ends or the hub is closed.
func (h *Hub[T]) Subscribe(ctx context.Context, key string, initial T) <-chan T {
	mb := &mailbox[T]{ch: make(chan T, 1)}
	mb.ch <- initial

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(mb.ch)
		return mb.ch
	}
	subs, ok := h.topics[key]
	if !ok {
		subs = make(map[*mailbox[T]]struct{})
		h.topics[key] = subs
	}
	subs[mb] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(key, mb)
	}()
	return mb.ch
}

func (h *Hub[T]) remove(key string, mb *mailbox[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[key]
	if !ok {
		return
	}
	if _, ok := subs[mb]; !ok {
		return
	}
	delete(subs, mb)
	if len(subs) == 0 {
		delete(h.topics, key)
	}
	close(mb.ch)
}

// Publish delivers v to every subscriber of key.
func (h *Hub[T]) Publish(key string, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for mb := range h.topics[key] {
		mb.offer(v)
	}
}

// Subscribers returns the number of live subscribers on key.
func (h *Hub[T]) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[key])
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately after their initial value.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for key, subs := range h.topics {
		for mb := range subs {
			close(mb.ch)
		}
		delete(h.topics, key)
	}
}
