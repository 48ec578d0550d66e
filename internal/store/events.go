package store

import (
	"sync"

	"quickfix_notify/internal/notification"
)

// EventType enumerates what the store can announce to its consumers.
type EventType int

const (
	// EventListChanged fires whenever the cached collection changes shape.
	EventListChanged EventType = iota
	// EventUnreadChanged carries the new unread count.
	EventUnreadChanged
	// EventAlert requests an ephemeral user-facing alert for an incoming
	// notification.
	EventAlert
	// EventOperationFailed reports a store mutation or load that the server
	// rejected; local state was left (or rolled back to) unchanged.
	EventOperationFailed
	// EventLiveUpdatesLost signals that the supervisor exhausted its reconnect
	// attempts. Data keeps flowing through the polling fallback, but pushes
	// have stopped.
	EventLiveUpdatesLost
)

func (t EventType) String() string {
	switch t {
	case EventListChanged:
		return "list_changed"
	case EventUnreadChanged:
		return "unread_changed"
	case EventAlert:
		return "alert"
	case EventOperationFailed:
		return "operation_failed"
	case EventLiveUpdatesLost:
		return "live_updates_lost"
	default:
		return "unknown"
	}
}

// Event is one announcement on the store's channel. Only the fields relevant
// to the Type are populated.
type Event struct {
	Type         EventType
	Notification *notification.Notification
	Alert        *notification.Alert
	Unread       int
	Err          error
}

const subscriberBuffer = 16

// Hub fans store events out to any number of independent consumers (a toast
// layer, a badge counter) without the store knowing about them. Sends are
// best-effort: a consumer that stops draining its channel loses events rather
// than backpressuring the delivery pipeline.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and a cancel func. The channel is
// closed on cancel or hub shutdown.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers e to every subscriber that has room.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default: // slow consumer, drop
		}
	}
}

// Close shuts the hub down and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
