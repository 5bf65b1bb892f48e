// Package events fans out fleet and session events to subscribers. Delivery
// is best effort: a subscriber that is not keeping up misses events.
package events

import (
	"sync"
)

type Publisher interface {
	Publish(eventType string, data any)
}

type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

type Hub struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	last        map[string]Event
	order       []string
	bufferSize  int
}

type Option func(*Hub)

// WithBufferSize sets how many events a subscriber may lag behind before
// further events are dropped for it.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[chan Event]struct{}),
		last:        make(map[string]Event),
		bufferSize:  8,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a new subscriber. The latest event of each type seen so
// far is queued on the channel first.
func (h *Hub) Subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, max(h.bufferSize, len(h.order)))
	for _, t := range h.order {
		ch <- h.last[t]
	}
	h.subscribers[ch] = struct{}{}
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subscribers[ch]
	delete(h.subscribers, ch)
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (h *Hub) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, seen := h.last[eventType]; !seen {
		h.order = append(h.order, eventType)
	}
	h.last[eventType] = ev
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many clients are connected.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
