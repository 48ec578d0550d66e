// Package broker is an in-memory development stand-in for the QuickFix
// backend: the notification REST endpoints plus the STOMP-over-WebSocket push
// channel, enough to run the client end to end without the real services.
// Nothing is persisted; state lives for the lifetime of the process.
package broker

import (
	"sync"
	"time"

	"quickfix_notify/internal/notification"

	"go.uber.org/zap"
)

// Broker holds the in-memory notification state and the set of live push
// sessions.
type Broker struct {
	logger *zap.Logger

	mu       sync.Mutex
	nextID   int64
	inbox    map[string][]notification.Notification // keyed by topic, most-recent-first
	sessions map[*wsSession]struct{}
}

func New(logger *zap.Logger) *Broker {
	return &Broker{
		logger:   logger.Named("broker"),
		nextID:   1,
		inbox:    make(map[string][]notification.Notification),
		sessions: make(map[*wsSession]struct{}),
	}
}

// Create stores a new notification and pushes it to every session subscribed
// to the recipient's topic.
func (b *Broker) Create(role notification.Role, recipientID int64, kind notification.Kind, title, message string, relatedBookingID *int64) notification.Notification {
	topic := notification.Topic(role, recipientID)

	b.mu.Lock()
	n := notification.Notification{
		ID:               b.nextID,
		RecipientID:      recipientID,
		Kind:             kind,
		Title:            title,
		Message:          message,
		IsHighPriority:   kind.HighPriority(),
		RelatedBookingID: relatedBookingID,
		CreatedAt:        time.Now().UTC(),
	}
	b.nextID++
	b.inbox[topic] = append([]notification.Notification{n}, b.inbox[topic]...)
	b.mu.Unlock()

	b.publish(topic, n)
	return n
}

// List returns the recipient's notifications, most-recent-first.
func (b *Broker) List(role notification.Role, recipientID int64) []notification.Notification {
	topic := notification.Topic(role, recipientID)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]notification.Notification, len(b.inbox[topic]))
	copy(out, b.inbox[topic])
	return out
}

// UnreadCount returns how many of the recipient's notifications are unread.
func (b *Broker) UnreadCount(role notification.Role, recipientID int64) int {
	topic := notification.Topic(role, recipientID)
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, n := range b.inbox[topic] {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// MarkRead flags one notification read. Returns false when the id is unknown.
func (b *Broker) MarkRead(role notification.Role, recipientID, id int64) bool {
	topic := notification.Topic(role, recipientID)
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.inbox[topic]
	for i := range list {
		if list[i].ID == id {
			list[i].IsRead = true
			return true
		}
	}
	return false
}

// MarkAllRead flags all of the recipient's notifications read and returns the
// number updated.
func (b *Broker) MarkAllRead(role notification.Role, recipientID int64) int {
	topic := notification.Topic(role, recipientID)
	b.mu.Lock()
	defer b.mu.Unlock()
	updated := 0
	list := b.inbox[topic]
	for i := range list {
		if !list[i].IsRead {
			list[i].IsRead = true
			updated++
		}
	}
	return updated
}

// Delete removes one notification. Returns false when the id is unknown.
func (b *Broker) Delete(role notification.Role, recipientID, id int64) bool {
	topic := notification.Topic(role, recipientID)
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.inbox[topic]
	for i := range list {
		if list[i].ID == id {
			b.inbox[topic] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}
