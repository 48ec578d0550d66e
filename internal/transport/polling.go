package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PollingDialer opens an HTTP long-polling connection against the broker's
// fallback endpoints ({path}/open, {path}/poll, {path}/send). It is only used
// when the native socket upgrade is rejected; see FallbackDialer.
type PollingDialer struct {
	Client *http.Client
	// PollTimeout bounds one long-poll round trip. The server is expected to
	// hold the request shorter than this and answer 204 when idle.
	PollTimeout time.Duration
}

func (d *PollingDialer) Dial(ctx context.Context, rawURL, token string) (Conn, error) {
	base, err := httpBaseURL(rawURL)
	if err != nil {
		return nil, err
	}

	httpClient := d.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	pollTimeout := d.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}

	conn := &pollConn{
		client:      httpClient,
		base:        base,
		session:     uuid.NewString(),
		token:       token,
		pollTimeout: pollTimeout,
	}
	conn.ctx, conn.cancel = context.WithCancel(context.Background())

	if err := conn.open(ctx); err != nil {
		conn.cancel()
		return nil, err
	}
	return conn, nil
}

// httpBaseURL rewrites a ws:// or wss:// endpoint to its http(s) twin.
func httpBaseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported broker URL scheme %q", u.Scheme)
	}
	return u, nil
}

// pollConn emulates a duplex message stream over request/response HTTP.
// ReadMessage long-polls until a message arrives, the read deadline passes,
// or the connection is closed.
type pollConn struct {
	client      *http.Client
	base        *url.URL
	session     string
	token       string
	pollTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	deadline time.Time
}

func (c *pollConn) endpoint(name string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + name
	q := u.Query()
	q.Set("session", c.session)
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *pollConn) open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("open"), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("opening polling session failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opening polling session failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *pollConn) ReadMessage() ([]byte, error) {
	for {
		if err := c.ctx.Err(); err != nil {
			return nil, fmt.Errorf("polling connection closed: %w", err)
		}

		c.mu.Lock()
		deadline := c.deadline
		c.mu.Unlock()
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, os.ErrDeadlineExceeded
		}

		// Bound the round by the read deadline as well, so an expiring
		// deadline surfaces promptly instead of waiting out a full idle poll.
		timeout := c.pollTimeout
		if !deadline.IsZero() {
			if until := time.Until(deadline); until < timeout {
				timeout = until
			}
		}
		reqCtx, cancel := context.WithTimeout(c.ctx, timeout)
		data, status, err := c.poll(reqCtx)
		cancel()
		if err != nil {
			if c.ctx.Err() != nil {
				return nil, fmt.Errorf("polling connection closed: %w", c.ctx.Err())
			}
			// A single poll timing out is the idle case, not a failure.
			if reqCtx.Err() == context.DeadlineExceeded {
				continue
			}
			return nil, err
		}
		switch status {
		case http.StatusOK:
			return data, nil
		case http.StatusNoContent:
			continue
		default:
			return nil, fmt.Errorf("polling failed: status %d", status)
		}
	}
}

func (c *pollConn) poll(ctx context.Context) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("poll"), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

func (c *pollConn) WriteMessage(data []byte) error {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.endpoint("send"), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending over polling transport failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sending over polling transport failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *pollConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *pollConn) Close() error {
	c.cancel()
	return nil
}
