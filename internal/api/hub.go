package api

import (
	"context"
	"sync"
	"time"

	"github.com/gwlsn/remuxer/internal/events"
)

// Hub fans events from the engine's channel out to SSE subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan events.Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan events.Event]struct{})}
}

// Subscribe returns a channel that receives every broadcast event.
func (h *Hub) Subscribe() chan events.Event {
	ch := make(chan events.Event, 256)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscription
func (h *Hub) Unsubscribe(ch chan events.Event) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()

	close(ch)
}

// Broadcast sends an event to all subscribers
func (h *Hub) Broadcast(e events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			// Channel full, skip this subscriber
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Pump is the single consumer of ch: it drains up to batch events every
// interval and broadcasts them until ctx is done.
func (h *Hub) Pump(ctx context.Context, ch *events.Channel, interval time.Duration, batch int) {
	ch.Consume(ctx, interval, batch, h.Broadcast)
}
