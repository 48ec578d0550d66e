package stomp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quickfix_notify/internal/common"
	"quickfix_notify/internal/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	protocolVersion  = "1.2"
	handshakeTimeout = 10 * time.Second
	// readGraceFactor multiplies the negotiated inbound heart-beat interval to
	// form the read deadline. Missing server heart-beats then surface as a
	// read error from the transport, not as a protocol event.
	readGraceFactor = 2
)

// MessageHandler receives decoded MESSAGE frames for one topic.
type MessageHandler func(frame *Frame)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID    string
	Topic string
}

// Options configures a protocol client. The two error callbacks separate the
// failure classes the supervisor reacts to: protocol-level (ERROR frame,
// malformed frame) and transport-level (socket failure). Unhandled frames are
// diagnostic only and never reported as errors.
type Options struct {
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	OnProtocolError   func(error)
	OnTransportError  func(error)
}

// Client layers the pub/sub protocol over a transport.Conn. Activate performs
// the connect handshake; Subscribe registers exactly one handler per topic.
type Client struct {
	conn   transport.Conn
	logger *zap.Logger

	heartbeatOut time.Duration
	heartbeatIn  time.Duration

	onProtocolError  func(error)
	onTransportError func(error)

	mu   sync.Mutex
	subs map[string]*topicSub // keyed by destination topic

	closed atomic.Bool
	done   chan struct{}
}

type topicSub struct {
	id      string
	handler MessageHandler
}

func NewClient(conn transport.Conn, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		conn:             conn,
		logger:           logger.Named("stomp"),
		heartbeatOut:     opts.HeartbeatInterval,
		heartbeatIn:      opts.HeartbeatInterval,
		onProtocolError:  opts.OnProtocolError,
		onTransportError: opts.OnTransportError,
		subs:             make(map[string]*topicSub),
		done:             make(chan struct{}),
	}
}

// Activate performs the CONNECT/CONNECTED handshake and starts the read and
// heart-beat loops. It must be called exactly once.
func (c *Client) Activate(ctx context.Context) error {
	connect := NewFrame(CommandConnect,
		HeaderAcceptVersion, protocolVersion,
		HeaderHeartBeat, FormatHeartBeat(c.heartbeatOut, c.heartbeatIn),
	)
	if err := c.conn.WriteMessage(Marshal(connect)); err != nil {
		return fmt.Errorf("sending CONNECT failed: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("setting handshake deadline failed: %w", err)
	}

	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("handshake read failed: %w", err)
		}
		if IsHeartbeat(data) {
			continue
		}
		frame, err := Parse(data)
		if err != nil {
			return common.ErrProtocolFailure.WithDetails(err.Error())
		}
		switch frame.Command {
		case CommandConnected:
			c.negotiateHeartbeats(frame)
			c.startLoops()
			return nil
		case CommandError:
			return common.ErrProtocolFailure.WithDetails(errorFrameDetails(frame))
		default:
			return common.ErrProtocolFailure.WithDetails(
				fmt.Sprintf("unexpected %s frame during handshake", frame.Command))
		}
	}
}

// negotiateHeartbeats folds the server's advertised cadence into ours: we
// never check for inbound beats more often than the server promises to send
// them.
func (c *Client) negotiateHeartbeats(connected *Frame) {
	value, ok := connected.Headers[HeaderHeartBeat]
	if !ok {
		return
	}
	serverOut, serverIn, err := ParseHeartBeat(value)
	if err != nil {
		c.logger.Warn("Ignoring malformed heart-beat header from broker", zap.String("value", value))
		return
	}
	if serverOut == 0 {
		c.heartbeatIn = 0 // server will not beat; rely on TCP
	} else if serverOut > c.heartbeatIn {
		c.heartbeatIn = serverOut
	}
	if serverIn == 0 {
		c.heartbeatOut = 0
	} else if serverIn > c.heartbeatOut {
		c.heartbeatOut = serverIn
	}
}

func (c *Client) startLoops() {
	go c.readLoop()
	if c.heartbeatOut > 0 {
		go c.heartbeatLoop()
	}
}

func (c *Client) readLoop() {
	for {
		if c.heartbeatIn > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(readGraceFactor * c.heartbeatIn))
		} else {
			_ = c.conn.SetReadDeadline(time.Time{})
		}

		data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.reportTransport(fmt.Errorf("%w: %s", common.ErrTransportFailure, err.Error()))
			return
		}
		if IsHeartbeat(data) {
			continue
		}

		frame, err := Parse(data)
		if err != nil {
			// Malformed frame: surfaced as a protocol error so the supervisor
			// can cycle the connection, but the loop itself keeps reading.
			c.logger.Error("Dropping malformed frame", zap.Error(err))
			c.reportProtocol(common.ErrProtocolFailure.WithDetails(err.Error()))
			continue
		}

		switch frame.Command {
		case CommandMessage:
			c.dispatch(frame)
		case CommandError:
			c.logger.Error("Broker sent ERROR frame", zap.String("message", frame.Headers[HeaderMessage]))
			c.reportProtocol(common.ErrProtocolFailure.WithDetails(errorFrameDetails(frame)))
		default:
			// Diagnostic only; not an error class.
			c.logger.Debug("Unhandled frame", zap.String("command", string(frame.Command)))
		}
	}
}

func (c *Client) dispatch(frame *Frame) {
	topic := frame.Headers[HeaderDestination]
	c.mu.Lock()
	sub := c.subs[topic]
	c.mu.Unlock()
	if sub == nil {
		c.logger.Debug("MESSAGE for topic without subscription", zap.String("topic", topic))
		return
	}
	sub.handler(frame)
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeatOut)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteMessage(Heartbeat()); err != nil {
				if c.closed.Load() {
					return
				}
				c.reportTransport(fmt.Errorf("%w: heartbeat write: %s", common.ErrTransportFailure, err.Error()))
				return
			}
		}
	}
}

// Subscribe registers the single handler for topic. Subscribing to a topic
// that already has a handler first unsubscribes the previous handle, so a
// frame is never delivered twice.
func (c *Client) Subscribe(topic string, handler MessageHandler) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if previous, ok := c.subs[topic]; ok {
		if err := c.writeUnsubscribe(previous.id); err != nil {
			return nil, err
		}
		delete(c.subs, topic)
	}

	id := uuid.NewString()
	frame := NewFrame(CommandSubscribe,
		HeaderID, id,
		HeaderDestination, topic,
		HeaderAck, "auto",
	)
	if err := c.conn.WriteMessage(Marshal(frame)); err != nil {
		return nil, fmt.Errorf("sending SUBSCRIBE for %q failed: %w", topic, err)
	}
	c.subs[topic] = &topicSub{id: id, handler: handler}
	return &Subscription{ID: id, Topic: topic}, nil
}

// Unsubscribe cancels a subscription handle. A stale handle (superseded by a
// later Subscribe on the same topic) is a no-op.
func (c *Client) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.subs[sub.Topic]
	if !ok || current.id != sub.ID {
		return nil
	}
	if err := c.writeUnsubscribe(current.id); err != nil {
		return err
	}
	delete(c.subs, sub.Topic)
	return nil
}

func (c *Client) writeUnsubscribe(id string) error {
	frame := NewFrame(CommandUnsubscribe, HeaderID, id)
	if err := c.conn.WriteMessage(Marshal(frame)); err != nil {
		return fmt.Errorf("sending UNSUBSCRIBE failed: %w", err)
	}
	return nil
}

// Deactivate sends a best-effort DISCONNECT and closes the transport. Safe to
// call from error callbacks and more than once.
func (c *Client) Deactivate() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	_ = c.conn.WriteMessage(Marshal(NewFrame(CommandDisconnect)))
	_ = c.conn.Close()
}

func (c *Client) reportProtocol(err error) {
	if c.onProtocolError != nil {
		c.onProtocolError(err)
	}
}

func (c *Client) reportTransport(err error) {
	if c.onTransportError != nil {
		c.onTransportError(err)
	}
}

func errorFrameDetails(frame *Frame) string {
	details := frame.Headers[HeaderMessage]
	if len(frame.Body) > 0 {
		if details != "" {
			details += ": "
		}
		details += string(frame.Body)
	}
	return details
}
