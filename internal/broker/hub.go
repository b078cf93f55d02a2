package broker

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBufSize = 256

// Event feeds.
const (
	FeedClaims   = "claims"
	FeedSessions = "sessions"
	FeedUpstream = "upstream"
)

// Event kinds.
const (
	EventClaimed      = "claimed"
	EventReleased     = "released"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventReplaced     = "replaced"
)

// Event is one ownership or connection change.
type Event struct {
	Feed      string    `json:"feed"`
	Kind      string    `json:"kind"`
	TabID     *int      `json:"tabId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Payload renders the event as a single JSON line.
func (e Event) Payload() string {
	data, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Hub fans out events to subscribers. Slow subscribers have events dropped
// rather than stalling the broker.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a subscriber and returns its id and a buffered
// channel of events.
func (h *Hub) Subscribe() (int64, <-chan Event) {
	id := h.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int64) {
	h.mu.Lock()
	ch, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish delivers evt to every subscriber without blocking.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
