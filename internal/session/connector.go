package session

import (
	"context"
	"io"
	"sync"
	"time"

	"quickfix_notify/internal/stomp"
	"quickfix_notify/internal/transport"

	"go.uber.org/zap"
)

// brokerConnector is the production supervisor.Connector: dial the
// fallback-capable transport, run the protocol handshake and subscribe.
type brokerConnector struct {
	dialer    transport.Dialer
	url       string
	token     string
	heartbeat time.Duration
	logger    *zap.Logger
}

func newBrokerConnector(dialer transport.Dialer, url, token string, heartbeat time.Duration, logger *zap.Logger) *brokerConnector {
	return &brokerConnector{
		dialer:    dialer,
		url:       url,
		token:     token,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

func (b *brokerConnector) Connect(ctx context.Context, topic string, onMessage func([]byte), onError func(error)) (io.Closer, error) {
	conn, err := b.dialer.Dial(ctx, b.url, b.token)
	if err != nil {
		return nil, err
	}

	// The supervisor's contract is one failure report per connection. The
	// protocol client can observe the same dying socket from both its read
	// loop and its heartbeat loop, so the report is collapsed here.
	var failed sync.Once
	reportOnce := func(err error) { failed.Do(func() { onError(err) }) }

	client := stomp.NewClient(conn, stomp.Options{
		Logger:            b.logger,
		HeartbeatInterval: b.heartbeat,
		OnProtocolError:   reportOnce,
		OnTransportError:  reportOnce,
	})
	if err := client.Activate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := client.Subscribe(topic, func(f *stomp.Frame) { onMessage(f.Body) }); err != nil {
		client.Deactivate()
		return nil, err
	}

	return closerFunc(func() error {
		client.Deactivate()
		return nil
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
