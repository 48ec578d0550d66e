package broker

import (
	"encoding/json"
	"net/http"
	"time"

	"quickfix_notify/internal/notification"
	"quickfix_notify/internal/stomp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sessionSendBuffer = 32
	brokerHeartbeat   = 4 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dev tool: any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSession is one connected push client and its topic subscriptions.
type wsSession struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]string // topic -> subscription id, guarded by Broker.mu
}

// handleWS upgrades the connection and speaks just enough STOMP for the
// client: CONNECT/CONNECTED, SUBSCRIBE/UNSUBSCRIBE, MESSAGE push and
// heart-beats.
func (b *Broker) handleWS(c *gin.Context) {
	if c.Query("token") == "" {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "Missing token."})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	session := &wsSession{
		conn:   conn,
		send:   make(chan []byte, sessionSendBuffer),
		topics: make(map[string]string),
	}

	b.mu.Lock()
	b.sessions[session] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	go session.writeLoop(done)
	b.readLoop(session)

	close(done)
	b.mu.Lock()
	delete(b.sessions, session)
	b.mu.Unlock()
	conn.Close()
}

func (s *wsSession) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(brokerHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case data := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, stomp.Heartbeat()); err != nil {
				return
			}
		}
	}
}

func (b *Broker) readLoop(session *wsSession) {
	for {
		_ = session.conn.SetReadDeadline(time.Now().Add(3 * brokerHeartbeat))
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			return
		}
		if stomp.IsHeartbeat(data) {
			continue
		}
		frame, err := stomp.Parse(data)
		if err != nil {
			b.logger.Warn("Dropping malformed frame from client", zap.Error(err))
			continue
		}

		switch frame.Command {
		case stomp.CommandConnect:
			connected := stomp.NewFrame(stomp.CommandConnected,
				stomp.HeaderVersion, "1.2",
				stomp.HeaderHeartBeat, stomp.FormatHeartBeat(brokerHeartbeat, brokerHeartbeat),
			)
			session.enqueue(stomp.Marshal(connected))
		case stomp.CommandSubscribe:
			topic := frame.Headers[stomp.HeaderDestination]
			id := frame.Headers[stomp.HeaderID]
			if topic == "" || id == "" {
				continue
			}
			b.mu.Lock()
			session.topics[topic] = id
			b.mu.Unlock()
			b.logger.Info("Client subscribed", zap.String("topic", topic))
		case stomp.CommandUnsubscribe:
			id := frame.Headers[stomp.HeaderID]
			b.mu.Lock()
			for topic, subID := range session.topics {
				if subID == id {
					delete(session.topics, topic)
				}
			}
			b.mu.Unlock()
		case stomp.CommandDisconnect:
			return
		default:
			b.logger.Debug("Unhandled frame from client", zap.String("command", string(frame.Command)))
		}
	}
}

func (s *wsSession) enqueue(data []byte) {
	select {
	case s.send <- data:
	default: // slow client, drop
	}
}

// publish delivers a notification to every session subscribed to topic.
func (b *Broker) publish(topic string, n notification.Notification) {
	body, err := json.Marshal(n)
	if err != nil {
		b.logger.Error("Encoding notification failed", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for session := range b.sessions {
		subID, ok := session.topics[topic]
		if !ok {
			continue
		}
		frame := stomp.NewFrame(stomp.CommandMessage,
			stomp.HeaderDestination, topic,
			stomp.HeaderMessageID, uuid.NewString(),
			stomp.HeaderSubscription, subID,
			stomp.HeaderContentType, "application/json",
		)
		frame.Body = body
		session.enqueue(stomp.Marshal(frame))
	}
}
