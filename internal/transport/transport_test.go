package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestAuthURL_AppendsToken(t *testing.T) {
	u, err := authURL("ws://broker.local/ws?version=2", "secret token")
	require.NoError(t, err)
	assert.Contains(t, u, "token=secret+token")
	assert.Contains(t, u, "version=2", "existing query parameters must survive")
}

func TestWebSocketDialer_TokenRidesTheQueryString(t *testing.T) {
	var gotToken string
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// Echo until the client hangs up.
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dialer := &WebSocketDialer{HandshakeTimeout: 5 * time.Second}
	conn, err := dialer.Dial(context.Background(), wsURL(srv, "/ws"), "tok-123")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "tok-123", gotToken)

	require.NoError(t, conn.WriteMessage([]byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), data)
}

func TestFallbackDialer_UsesWebSocketWhenUpgradeSucceeds(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer srv.Close()

	dialer := NewFallbackDialer(5*time.Second, zap.NewNop())
	conn, err := dialer.Dial(context.Background(), wsURL(srv, "/ws"), "tok")
	require.NoError(t, err)
	defer conn.Close()

	_, ok := conn.(*wsConn)
	assert.True(t, ok, "Expected the native websocket transport")
}

func TestFallbackDialer_FallsBackOnRejectedUpgrade(t *testing.T) {
	var (
		mu       sync.Mutex
		opened   bool
		sent     []byte
		messages = [][]byte{[]byte("CONNECTED-ish payload")}
	)

	mux := http.NewServeMux()
	// The upgrade endpoint refuses to speak websocket.
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upgrades not allowed here", http.StatusForbidden)
	})
	mux.HandleFunc("POST /ws/open", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		opened = r.URL.Query().Get("session") != "" && r.URL.Query().Get("token") == "tok"
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /ws/poll", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if len(messages) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		msg := messages[0]
		messages = messages[1:]
		w.WriteHeader(http.StatusOK)
		w.Write(msg)
	})
	mux.HandleFunc("POST /ws/send", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		sent = body
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dialer := NewFallbackDialer(5*time.Second, zap.NewNop())
	conn, err := dialer.Dial(context.Background(), wsURL(srv, "/ws"), "tok")
	require.NoError(t, err)
	defer conn.Close()

	mu.Lock()
	assert.True(t, opened, "Expected the polling session to be opened with session and token")
	mu.Unlock()

	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("CONNECTED-ish payload"), data)

	require.NoError(t, conn.WriteMessage([]byte("frame")))
	mu.Lock()
	assert.Equal(t, []byte("frame"), sent)
	mu.Unlock()
}

func TestFallbackDialer_DoesNotFallBackOnDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	dialer := NewFallbackDialer(time.Second, zap.NewNop())
	_, err := dialer.Dial(context.Background(), wsURL(srv, "/ws"), "tok")

	assert.Error(t, err, "A connection failure is not an upgrade rejection and must not mask itself behind polling")
}

func TestPollingConn_ReadDeadline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ws/open", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /ws/poll", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dialer := &PollingDialer{PollTimeout: 50 * time.Millisecond}
	conn, err := dialer.Dial(context.Background(), srv.URL+"/ws", "tok")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(-time.Second)))
	_, err = conn.ReadMessage()
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestPollingConn_DeadlineBoundsPollRound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ws/open", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /ws/poll", func(w http.ResponseWriter, r *http.Request) {
		// Idle broker: hold the poll open until the client gives up.
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dialer := &PollingDialer{PollTimeout: 10 * time.Second}
	conn, err := dialer.Dial(context.Background(), srv.URL+"/ws", "tok")
	require.NoError(t, err)
	defer conn.Close()

	// A deadline expiring mid-round must surface then, not after the full
	// poll timeout has run out.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	start := time.Now()
	_, err = conn.ReadMessage()
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Less(t, elapsed, 2*time.Second, "Expected the deadline to cut the poll round short")
}

func TestPollingConn_CloseUnblocksRead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ws/open", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /ws/poll", func(w http.ResponseWriter, r *http.Request) {
		// Hold the poll open until the client gives up.
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dialer := &PollingDialer{PollTimeout: 10 * time.Second}
	conn, err := dialer.Dial(context.Background(), srv.URL+"/ws", "tok")
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		_, err := conn.ReadMessage()
		readErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-readErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadMessage did not unblock after Close")
	}
}

func TestPollingDialer_OpenFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ws/open", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dialer := &PollingDialer{}
	_, err := dialer.Dial(context.Background(), srv.URL+"/ws", "tok")
	assert.Error(t, err)
}
