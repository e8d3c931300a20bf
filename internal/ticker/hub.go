// Package ticker fans committed clap events out to live subscribers.
package ticker

import (
	"context"
	"sync"

	"github.com/openclapp/openclapp/internal/metrics"
	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Hub delivers events to in-process subscribers. Delivery never blocks the
// publisher: a subscriber whose queue is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan schema.Event]struct{}
	closed bool
	buffer int
	log    logrus.FieldLogger
}

// NewHub creates a hub. A buffer below 1 uses DefaultBuffer.
func NewHub(buffer int, log logrus.FieldLogger) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		subs:   make(map[chan schema.Event]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registers a new subscriber. The returned cancel func is
// idempotent and closes the channel.
func (h *Hub) Subscribe() (<-chan schema.Event, func()) {
	ch := make(chan schema.Event, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	metrics.SubscriberConnected()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
				metrics.SubscriberDisconnected()
			}
		})
	}
}

// Broadcast delivers e to every subscriber with room in its queue.
func (h *Hub) Broadcast(e schema.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.log.WithField("event_id", e.ID).Debug("ticker subscriber lagging, event dropped")
		}
	}
}

// Publish implements service.Publisher for single-instance deployments.
func (h *Hub) Publish(_ context.Context, e schema.Event) {
	h.Broadcast(e)
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later subscriptions get a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
		metrics.SubscriberDisconnected()
	}
}
