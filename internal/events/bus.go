// Package events is the in-process pub/sub bus the broker stream client
// (C5) and real-time hub (C14) communicate over. Adapted from the
// teacher's single drop-always Bus: quote events keep that latest-wins
// drop behavior, but order/account/position events must never be dropped,
// so PublishCritical blocks until delivered or the caller's context expires
// and reports saturation instead of swallowing the event.
package events

import (
	"context"
	"sync"

	"topstepx-engine/internal/result"
)

// Bus is a lightweight pub/sub broker using buffered channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener for a topic and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// PublishDroppable fans payload out to subscribers of t, dropping silently
// on any subscriber whose buffer is full. Used for TopicQuote: a missed
// tick is superseded by the next one.
func (b *Bus) PublishDroppable(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// PublishCritical fans payload out to subscribers of t, blocking on each
// until delivered or ctx is done. Returns a non-nil error the first time a
// subscriber cannot accept the event before ctx expires, so the stream
// client can disconnect rather than silently drop an order or account
// event.
func (b *Bus) PublishCritical(ctx context.Context, t Topic, payload any) *result.Error {
	b.mu.RLock()
	subs := append([]chan any(nil), b.subs[t]...)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return result.Err(result.KindTimeout, "subscriber queue saturated for topic %s; disconnecting producer", t)
		}
	}
	return nil
}
