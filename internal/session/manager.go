// Package session ties the delivery pipeline together behind one object with
// an explicit lifecycle: constructed once, started when a user logs in, and
// stopped when the session ends. Nothing here is process-global, so
// independent instances can coexist (and be tested) freely.
package session

import (
	"context"
	"fmt"
	"sync"

	"quickfix_notify/internal/api"
	"quickfix_notify/internal/config"
	"quickfix_notify/internal/liveness"
	"quickfix_notify/internal/notification"
	"quickfix_notify/internal/store"
	"quickfix_notify/internal/supervisor"
	"quickfix_notify/internal/transport"

	"go.uber.org/zap"
)

// ErrNoActiveSession is returned by operations invoked between Stop and the
// next Start.
var ErrNoActiveSession = fmt.Errorf("no active notification session")

// Manager owns the store, supervisor and liveness monitor for one user
// session.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger
	api    api.Client

	mu      sync.Mutex
	st      *store.Store
	sup     *supervisor.Supervisor
	monitor *liveness.Monitor
	active  bool
}

func NewManager(cfg *config.Config, logger *zap.Logger, apiClient api.Client) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("session"),
		api:    apiClient,
	}
}

// Start brings the pipeline up for (userID, role): initial load, live channel
// connect, liveness monitor. Starting over an already-active session tears
// the old one down first.
func (m *Manager) Start(ctx context.Context, userID int64, role notification.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		m.stopLocked()
	}

	st := store.New(m.api, role, userID, m.logger)
	dialer := transport.NewFallbackDialer(m.cfg.HandshakeTimeout, m.logger)
	connector := newBrokerConnector(dialer, m.cfg.BrokerURL, m.cfg.APIToken, m.cfg.HeartbeatInterval, m.logger)
	sup := supervisor.New(supervisor.Options{
		Connector:   connector,
		Logger:      m.logger,
		BaseDelay:   m.cfg.ReconnectBaseDelay,
		MaxAttempts: m.cfg.MaxReconnectAttempts,
		OnTerminal:  func(err error) { st.ReportLiveUpdatesLost(err) },
	})
	st.SetFetchNotifier(sup.RecordFetchSuccess)
	monitor := liveness.NewMonitor(sup, st, m.cfg.MonitorSchedule, m.cfg.StaleThreshold, m.logger)

	// An initial load failure is user-visible but not fatal: the live channel
	// and the monitor both reconcile the cache later.
	if err := st.Load(ctx); err != nil {
		m.logger.Warn("Initial notification load failed, continuing with empty cache", zap.Error(err))
	}

	if err := sup.Connect(userID, role, st.ApplyIncoming); err != nil {
		st.Close()
		return err
	}
	if err := monitor.SetupAndStart(); err != nil {
		sup.Disconnect()
		st.Close()
		return err
	}

	m.st, m.sup, m.monitor = st, sup, monitor
	m.active = true
	m.logger.Info("Notification session started",
		zap.Int64("userID", userID), zap.String("role", string(role)))
	return nil
}

// Stop tears the pipeline down: monitor, live channel, event hub. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if !m.active {
		return
	}
	m.monitor.Stop()
	m.sup.Disconnect()
	m.st.Close()
	m.st, m.sup, m.monitor = nil, nil, nil
	m.active = false
	m.logger.Info("Notification session stopped")
}

// Subscribe attaches an event consumer to the active session's store.
func (m *Manager) Subscribe() (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil, nil, ErrNoActiveSession
	}
	ch, cancel := m.st.Subscribe()
	return ch, cancel, nil
}

// Event re-exports the store's event type for consumers that only import the
// session package.
type Event = store.Event

// Notifications returns the cached collection, most-recent-first.
func (m *Manager) Notifications() []notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil
	}
	return m.st.Notifications()
}

// UnreadCount returns the unread badge value.
func (m *Manager) UnreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return 0
	}
	return m.st.UnreadCount()
}

// IsLoading reports whether a load/refresh is in flight.
func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.st.IsLoading()
}

// MarkRead marks one notification as read.
func (m *Manager) MarkRead(ctx context.Context, id int64) error {
	st, err := m.activeStore()
	if err != nil {
		return err
	}
	return st.MarkRead(ctx, id)
}

// MarkAllRead marks every notification as read.
func (m *Manager) MarkAllRead(ctx context.Context) error {
	st, err := m.activeStore()
	if err != nil {
		return err
	}
	return st.MarkAllRead(ctx)
}

// DeleteNotification removes a notification.
func (m *Manager) DeleteNotification(ctx context.Context, id int64) error {
	st, err := m.activeStore()
	if err != nil {
		return err
	}
	return st.Delete(ctx, id)
}

// RefreshNotifications forces a full reconciling reload.
func (m *Manager) RefreshNotifications(ctx context.Context) error {
	st, err := m.activeStore()
	if err != nil {
		return err
	}
	return st.Refresh(ctx)
}

func (m *Manager) activeStore() (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil, ErrNoActiveSession
	}
	return m.st, nil
}
