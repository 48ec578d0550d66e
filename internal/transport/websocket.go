package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens native WebSocket connections via gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial connects to rawURL with the token in the query string. An upgrade
// rejected by network middleware surfaces as websocket.ErrBadHandshake in the
// wrap chain, which the fallback dialer keys off.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL, token string) (Conn, error) {
	u, err := authURL(rawURL, token)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL %q: %w", rawURL, err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn adapts *websocket.Conn to the Conn interface. Gorilla permits only
// one concurrent writer, so writes are serialized here; the heartbeat ticker
// and subscription frames would otherwise race.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
