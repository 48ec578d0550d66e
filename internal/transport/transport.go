// Package transport provides the message-oriented duplex channel to the
// realtime broker: a native WebSocket dialer with a transparent HTTP
// long-polling fallback for networks that reject the upgrade. Upper layers
// only ever see Conn semantics; which transport actually carries the frames
// is decided at dial time.
package transport

import (
	"context"
	"net/url"
	"time"
)

// Conn is one open duplex channel. Messages are whole frames; fragmentation
// is the transport's problem.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn against the broker endpoint. The token is embedded in
// the connection URL as a query parameter rather than a header, because the
// polling fallback cannot set custom headers.
type Dialer interface {
	Dial(ctx context.Context, rawURL, token string) (Conn, error)
}

// authURL appends the bearer token to the endpoint as a query parameter.
func authURL(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
