// Package store holds the client-side cache of notification entities: dedup
// by id, read/unread accounting, optimistic mutations reconciled with server
// truth, and the event fan-out the UI consumes.
package store

import (
	"context"
	"sync"

	"quickfix_notify/internal/api"
	"quickfix_notify/internal/notification"

	"go.uber.org/zap"
)

// Store caches notifications for one (userID, role) session. All methods are
// safe for concurrent use; mutations are atomic with respect to each other.
type Store struct {
	api    api.Client
	logger *zap.Logger
	hub    *Hub
	role   notification.Role
	userID int64

	// onFetchSuccess is wired to the supervisor's fetch timestamp so the
	// liveness monitor can tell fresh data from stale.
	onFetchSuccess func()

	mu      sync.Mutex
	items   []notification.Notification // most-recent-first
	seen    map[int64]struct{}
	unread  int
	loading bool
	// Live pushes accepted while a load is in flight. They may post-date the
	// server snapshot the load returns, so they are folded back in on commit.
	liveDuringLoad []notification.Notification
}

func New(apiClient api.Client, role notification.Role, userID int64, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		api:    apiClient,
		logger: logger.Named("store"),
		hub:    NewHub(),
		role:   role,
		userID: userID,
		seen:   make(map[int64]struct{}),
	}
}

// SetFetchNotifier registers the callback invoked after every successful
// load/refresh. Must be called before the store is shared.
func (s *Store) SetFetchNotifier(fn func()) {
	s.onFetchSuccess = fn
}

// Subscribe attaches an event consumer. See Hub.Subscribe.
func (s *Store) Subscribe() (<-chan Event, func()) {
	return s.hub.Subscribe()
}

// Load fetches the full notification list and the unread count in parallel
// and replaces the cache. The two fetches hit independent server code paths
// and may transiently disagree; the server's count is trusted verbatim rather
// than recomputed from the list, because recomputing would undercount
// whenever unread items fall outside the returned window.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.liveDuringLoad = nil
	s.mu.Unlock()

	var (
		wg       sync.WaitGroup
		list     []notification.Notification
		count    int
		listErr  error
		countErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		list, listErr = s.api.List(ctx, s.role, s.userID)
	}()
	go func() {
		defer wg.Done()
		count, countErr = s.api.UnreadCount(ctx, s.role, s.userID)
	}()
	wg.Wait()

	s.mu.Lock()
	s.loading = false
	if listErr != nil || countErr != nil {
		s.mu.Unlock()
		err := listErr
		if err == nil {
			err = countErr
		}
		// Stale cached data stays displayed rather than being cleared.
		s.logger.Error("Loading notifications failed", zap.Error(err))
		s.hub.Publish(Event{Type: EventOperationFailed, Err: err})
		return err
	}

	s.items = make([]notification.Notification, len(list))
	copy(s.items, list)
	s.seen = make(map[int64]struct{}, len(list))
	for _, n := range list {
		s.seen[n.ID] = struct{}{}
	}
	s.unread = count
	// Fold back live pushes that raced the fetch. Anything the snapshot
	// already contains is dropped; the rest is prepended in arrival order so
	// the newest stays first.
	for _, n := range s.liveDuringLoad {
		if _, ok := s.seen[n.ID]; ok {
			continue
		}
		s.items = append([]notification.Notification{n}, s.items...)
		s.seen[n.ID] = struct{}{}
		if !n.IsRead {
			s.unread++
		}
	}
	s.liveDuringLoad = nil
	unread := s.unread
	s.mu.Unlock()

	if s.onFetchSuccess != nil {
		s.onFetchSuccess()
	}
	s.hub.Publish(Event{Type: EventListChanged})
	s.hub.Publish(Event{Type: EventUnreadChanged, Unread: unread})
	return nil
}

// Refresh is a full reconciling reload, used by the liveness monitor and
// exposed to the UI.
func (s *Store) Refresh(ctx context.Context) error {
	return s.Load(ctx)
}

// ApplyIncoming merges a live-pushed notification into the cache. Duplicate
// ids are a no-op, not an overwrite: the live channel may re-deliver after a
// reconnect, and a re-delivery must not clobber read-state the client already
// applied. Every accepted notification triggers an ephemeral alert.
func (s *Store) ApplyIncoming(n notification.Notification) {
	s.mu.Lock()
	if _, dup := s.seen[n.ID]; dup {
		s.mu.Unlock()
		s.logger.Debug("Duplicate notification dropped", zap.Int64("id", n.ID))
		return
	}
	s.items = append([]notification.Notification{n}, s.items...)
	s.seen[n.ID] = struct{}{}
	if s.loading {
		s.liveDuringLoad = append(s.liveDuringLoad, n)
	}
	unreadChanged := false
	if !n.IsRead {
		s.unread++
		unreadChanged = true
	}
	unread := s.unread
	s.mu.Unlock()

	s.hub.Publish(Event{Type: EventListChanged})
	if unreadChanged {
		s.hub.Publish(Event{Type: EventUnreadChanged, Unread: unread})
	}
	alert := notification.AlertFor(n)
	s.hub.Publish(Event{Type: EventAlert, Notification: &n, Alert: &alert})
}

// MarkRead marks one notification read, optimistically: the local mutation is
// applied first and rolled back if the server rejects it. The guard on the
// current read flag means the unread count can never double-decrement for the
// same id and never goes negative.
func (s *Store) MarkRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	applied := false
	if idx >= 0 && !s.items[idx].IsRead {
		s.items[idx].IsRead = true
		if s.unread > 0 {
			s.unread--
		}
		applied = true
	}
	unread := s.unread
	s.mu.Unlock()

	if applied {
		s.hub.Publish(Event{Type: EventListChanged})
		s.hub.Publish(Event{Type: EventUnreadChanged, Unread: unread})
	}

	if err := s.api.MarkRead(ctx, s.role, s.userID, id); err != nil {
		if applied {
			s.mu.Lock()
			if idx := s.indexLocked(id); idx >= 0 {
				s.items[idx].IsRead = false
				s.unread++
			}
			unread = s.unread
			s.mu.Unlock()
			s.hub.Publish(Event{Type: EventListChanged})
			s.hub.Publish(Event{Type: EventUnreadChanged, Unread: unread})
		}
		s.logger.Error("Marking notification as read failed", zap.Int64("id", id), zap.Error(err))
		s.hub.Publish(Event{Type: EventOperationFailed, Err: err})
		return err
	}
	return nil
}

// MarkAllRead marks every notification read. Server first, then the local
// sweep: rolling back a bulk sweep would lose which entries were unread, so
// this one operation stays confirm-then-mutate.
func (s *Store) MarkAllRead(ctx context.Context) error {
	if err := s.api.MarkAllRead(ctx, s.role, s.userID); err != nil {
		s.logger.Error("Marking all notifications as read failed", zap.Error(err))
		s.hub.Publish(Event{Type: EventOperationFailed, Err: err})
		return err
	}

	s.mu.Lock()
	for i := range s.items {
		s.items[i].IsRead = true
	}
	s.unread = 0
	s.mu.Unlock()

	s.hub.Publish(Event{Type: EventListChanged})
	s.hub.Publish(Event{Type: EventUnreadChanged, Unread: 0})
	return nil
}

// Delete removes a notification from the cache, optimistically. The unread
// count is deliberately not adjusted: deleting an unread notification does
// not decrement the badge. That is carried-over policy, not an oversight.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	var removed notification.Notification
	if idx >= 0 {
		removed = s.items[idx]
		s.items = append(s.items[:idx], s.items[idx+1:]...)
		delete(s.seen, id)
	}
	s.mu.Unlock()

	if idx >= 0 {
		s.hub.Publish(Event{Type: EventListChanged})
	}

	if err := s.api.Delete(ctx, s.role, s.userID, id); err != nil {
		if idx >= 0 {
			s.mu.Lock()
			pos := idx
			if pos > len(s.items) {
				pos = len(s.items)
			}
			s.items = append(s.items[:pos], append([]notification.Notification{removed}, s.items[pos:]...)...)
			s.seen[id] = struct{}{}
			s.mu.Unlock()
			s.hub.Publish(Event{Type: EventListChanged})
		}
		s.logger.Error("Deleting notification failed", zap.Int64("id", id), zap.Error(err))
		s.hub.Publish(Event{Type: EventOperationFailed, Err: err})
		return err
	}
	return nil
}

// ReportLiveUpdatesLost publishes the terminal-failure signal from the
// supervisor so consumers can surface a "live updates unavailable" state.
func (s *Store) ReportLiveUpdatesLost(err error) {
	s.hub.Publish(Event{Type: EventLiveUpdatesLost, Err: err})
}

// Notifications returns a copy of the cached collection, most-recent-first.
func (s *Store) Notifications() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount returns the current unread badge value.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// IsLoading reports whether a load/refresh is in flight.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Close shuts down the event hub. Called on session teardown.
func (s *Store) Close() {
	s.hub.Close()
}

func (s *Store) indexLocked(id int64) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}
