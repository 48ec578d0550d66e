// Package supervisor owns the lifecycle of the live channel: it is the only
// component that creates, replaces or closes the underlying connection, and
// the only writer of the shared connection state other components read.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"quickfix_notify/internal/common"
	"quickfix_notify/internal/notification"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Phase is the lifecycle state of the live channel.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseBackoff
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only view of the connection state. Other components
// (liveness monitor, UI) consume snapshots and never mutate the state.
type Snapshot struct {
	Phase                 Phase
	Topic                 string
	Attempt               int
	LastSuccessfulFetchAt time.Time
}

// Connector opens the live channel end to end: dial the transport, perform
// the protocol handshake and subscribe to the topic. onMessage receives raw
// MESSAGE bodies; onError fires once on the first transport- or
// protocol-level failure of the established channel. The returned Closer
// tears the channel down.
type Connector interface {
	Connect(ctx context.Context, topic string, onMessage func([]byte), onError func(error)) (io.Closer, error)
}

// Options configures a Supervisor.
type Options struct {
	Connector   Connector
	Logger      *zap.Logger
	BaseDelay   time.Duration
	MaxAttempts int
	// OnTerminal fires when the retry ceiling is exceeded and the supervisor
	// gives up. Live updates stop; the liveness monitor's polling fallback is
	// the remaining safety net.
	OnTerminal func(error)
	// ConnectTimeout bounds one dial+handshake round. Zero means a default.
	ConnectTimeout time.Duration
}

// Supervisor drives Idle -> Connecting -> Connected -> Backoff(n) ->
// Connecting -> ... and is the exclusive owner of the connection handle.
type Supervisor struct {
	connector      Connector
	logger         *zap.Logger
	baseDelay      time.Duration
	maxAttempts    int
	onTerminal     func(error)
	connectTimeout time.Duration

	// Test seams; production uses the time package directly.
	afterFunc func(time.Duration, func()) *time.Timer
	now       func() time.Time

	mu             sync.Mutex
	phase          Phase
	topic          string
	userID         int64
	role           notification.Role
	attempt        int
	lastFetch      time.Time
	handle         io.Closer
	backoffTimer   *time.Timer
	retryDelays    *backoff.ExponentialBackOff
	onNotification func(notification.Notification)
	// generation invalidates callbacks from superseded connection attempts: a
	// delayed reconnect timer, a duplicate failure report or a late socket
	// error must never resurrect state that belongs to a previous identity or
	// an already-retried channel. Bumped on every teardown and every scheduled
	// retry.
	generation uint64
}

func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	return &Supervisor{
		connector:      opts.Connector,
		logger:         logger.Named("supervisor"),
		baseDelay:      opts.BaseDelay,
		maxAttempts:    opts.MaxAttempts,
		onTerminal:     opts.OnTerminal,
		connectTimeout: connectTimeout,
		afterFunc:      time.AfterFunc,
		now:            time.Now,
		phase:          PhaseIdle,
	}
}

// newRetryDelays yields baseDelay * 1.5^n on the nth call. Delay growth is
// uncapped; the ceiling is on attempts, not duration.
func newRetryDelays(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 1.5
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Connect opens the live channel for (userID, role). Calling it again with
// the identical pair while a channel is active is a no-op; a different pair
// tears the existing channel down synchronously before opening the new one.
func (s *Supervisor) Connect(userID int64, role notification.Role, onNotification func(notification.Notification)) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	s.mu.Lock()
	if s.phase != PhaseIdle && s.userID == userID && s.role == role {
		s.mu.Unlock()
		s.logger.Debug("Connect ignored, already active for identity",
			zap.Int64("userID", userID), zap.String("role", string(role)))
		return nil
	}
	if s.phase != PhaseIdle {
		s.logger.Info("Identity changed, tearing down existing connection",
			zap.Int64("userID", userID), zap.String("role", string(role)))
		s.teardownLocked()
	}
	s.userID = userID
	s.role = role
	s.onNotification = onNotification
	s.attempt = 0
	s.retryDelays = newRetryDelays(s.baseDelay)
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	go s.dial(gen)
	return nil
}

// dial performs one connection attempt for the given generation.
func (s *Supervisor) dial(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseConnecting
	// The topic is re-derived from the current identity on every attempt;
	// stale subscriptions are never reused across reconnects.
	s.topic = notification.Topic(s.role, s.userID)
	topic := s.topic
	onNotification := s.onNotification
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()

	handle, err := s.connector.Connect(ctx, topic,
		func(body []byte) { s.deliver(gen, onNotification, body) },
		func(chanErr error) { s.channelFailed(gen, chanErr) },
	)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if handle != nil {
			handle.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("Connection attempt failed", zap.String("topic", topic), zap.Error(err))
		s.scheduleRetry(gen, err)
		return
	}
	s.handle = handle
	s.phase = PhaseConnected
	s.attempt = 0
	s.retryDelays.Reset()
	s.mu.Unlock()

	s.logger.Info("Live channel connected", zap.String("topic", topic))
}

// deliver decodes a MESSAGE body into a Notification. A decode failure is
// logged and the frame dropped; it never takes down the subscription loop.
func (s *Supervisor) deliver(gen uint64, onNotification func(notification.Notification), body []byte) {
	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}

	var n notification.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		s.logger.Error("Dropping undecodable notification frame",
			zap.Error(err), zap.ByteString("body", body))
		return
	}
	onNotification(n)
}

// channelFailed handles a transport/protocol error on an established channel.
func (s *Supervisor) channelFailed(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.generation || s.phase == PhaseIdle {
		s.mu.Unlock()
		return
	}
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	s.mu.Unlock()

	s.logger.Warn("Live channel failed", zap.Error(cause))
	s.scheduleRetry(gen, cause)
}

// scheduleRetry arms the backoff timer for the next attempt, or gives up when
// the ceiling is reached.
func (s *Supervisor) scheduleRetry(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}

	if s.attempt >= s.maxAttempts {
		s.phase = PhaseIdle
		s.handle = nil
		s.backoffTimer = nil
		s.mu.Unlock()

		terminal := common.ErrTerminalFailure.WithDetails(cause.Error())
		s.logger.Error("Reconnect attempts exhausted, live updates stopped",
			zap.Int("attempts", s.maxAttempts), zap.Error(cause))
		if s.onTerminal != nil {
			s.onTerminal(terminal)
		}
		return
	}

	delay := s.retryDelays.NextBackOff()
	attempt := s.attempt
	s.attempt++
	s.phase = PhaseBackoff
	// Each retry cycle gets a fresh generation. A dying socket can be reported
	// more than once (read loop and heartbeat loop both see it), and a late
	// report from the channel just torn down must not schedule a second retry
	// or take down the healthy replacement: anything still holding the old
	// generation goes inert here.
	s.generation++
	nextGen := s.generation
	s.mu.Unlock()

	s.logger.Info("Scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)

	// Armed outside the lock: the timer may fire (and take the lock) before
	// AfterFunc even returns.
	timer := s.afterFunc(delay, func() { s.dial(nextGen) })

	s.mu.Lock()
	if nextGen != s.generation {
		s.mu.Unlock()
		timer.Stop()
		return
	}
	s.backoffTimer = timer
	s.mu.Unlock()
}

// Disconnect cancels any pending backoff, tears the channel down and resets
// all counters. This is the only path back to Idle and must leave no timer
// alive that could resurrect the session.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.teardownLocked()
	s.userID = 0
	s.role = ""
	s.onNotification = nil
	s.lastFetch = time.Time{}
	s.mu.Unlock()

	s.logger.Info("Disconnected")
}

func (s *Supervisor) teardownLocked() {
	s.generation++
	if s.backoffTimer != nil {
		s.backoffTimer.Stop()
		s.backoffTimer = nil
	}
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	s.phase = PhaseIdle
	s.topic = ""
	s.attempt = 0
	if s.retryDelays != nil {
		s.retryDelays.Reset()
	}
}

// RecordFetchSuccess marks a successful store fetch; the liveness monitor
// uses the timestamp to decide when data has gone stale.
func (s *Supervisor) RecordFetchSuccess() {
	s.mu.Lock()
	s.lastFetch = s.now()
	s.mu.Unlock()
}

// Snapshot returns the current connection state for read-only consumers.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:                 s.phase,
		Topic:                 s.topic,
		Attempt:               s.attempt,
		LastSuccessfulFetchAt: s.lastFetch,
	}
}
