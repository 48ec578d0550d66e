package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FallbackDialer tries the native WebSocket first and falls back to HTTP
// long-polling when the upgrade is rejected by network middleware. The
// negotiation is invisible to upper layers; they only see Conn events.
type FallbackDialer struct {
	ws      Dialer
	polling Dialer
	logger  *zap.Logger
}

func NewFallbackDialer(handshakeTimeout time.Duration, logger *zap.Logger) *FallbackDialer {
	return &FallbackDialer{
		ws: &WebSocketDialer{HandshakeTimeout: handshakeTimeout},
		polling: &PollingDialer{
			Client: &http.Client{Timeout: 0}, // long-poll requests manage their own deadlines
		},
		logger: logger.Named("transport"),
	}
}

func (d *FallbackDialer) Dial(ctx context.Context, rawURL, token string) (Conn, error) {
	conn, err := d.ws.Dial(ctx, rawURL, token)
	if err == nil {
		return conn, nil
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		return nil, err
	}

	d.logger.Warn("WebSocket upgrade rejected, falling back to HTTP long-polling",
		zap.String("url", rawURL),
		zap.Error(err),
	)
	return d.polling.Dial(ctx, rawURL, token)
}
