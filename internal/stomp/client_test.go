package stomp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quickfix_notify/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory transport.Conn: the test feeds inbound data
// through in and inspects everything the client wrote.
type fakeTransport struct {
	in     chan []byte
	closed atomic.Bool

	mu     sync.Mutex
	writes [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 16)}
}

func (c *fakeTransport) ReadMessage() ([]byte, error) {
	data, ok := <-c.in
	if !ok {
		return nil, errors.New("use of closed connection")
	}
	return data, nil
}

func (c *fakeTransport) WriteMessage(data []byte) error {
	if c.closed.Load() {
		return errors.New("use of closed connection")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeTransport) SetReadDeadline(time.Time) error { return nil }

func (c *fakeTransport) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.in)
	}
	return nil
}

// writtenFrames parses everything written so far, skipping heart-beats.
func (c *fakeTransport) writtenFrames(t *testing.T) []*Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var frames []*Frame
	for _, raw := range c.writes {
		if IsHeartbeat(raw) {
			continue
		}
		frame, err := Parse(raw)
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	return frames
}

func (c *fakeTransport) heartbeatWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, raw := range c.writes {
		if IsHeartbeat(raw) {
			count++
		}
	}
	return count
}

// Test Suite Setup
type ClientTestSuite struct {
	client    *Client
	conn      *fakeTransport
	protoErrs chan error
	transErrs chan error
}

func setupClientTestSuite(t *testing.T, heartbeat time.Duration) *ClientTestSuite {
	ts := &ClientTestSuite{
		conn:      newFakeTransport(),
		protoErrs: make(chan error, 8),
		transErrs: make(chan error, 8),
	}
	ts.client = NewClient(ts.conn, Options{
		HeartbeatInterval: heartbeat,
		OnProtocolError:   func(err error) { ts.protoErrs <- err },
		OnTransportError:  func(err error) { ts.transErrs <- err },
	})
	t.Cleanup(ts.client.Deactivate)
	return ts
}

// activate scripts a successful handshake.
func (ts *ClientTestSuite) activate(t *testing.T) {
	ts.conn.in <- Marshal(NewFrame(CommandConnected,
		HeaderVersion, "1.2",
		HeaderHeartBeat, FormatHeartBeat(4*time.Second, 4*time.Second),
	))
	require.NoError(t, ts.client.Activate(context.Background()))
}

func (ts *ClientTestSuite) pushMessage(topic, body string) {
	frame := NewFrame(CommandMessage,
		HeaderDestination, topic,
		HeaderMessageID, "m-1",
		HeaderSubscription, "s-1",
	)
	frame.Body = []byte(body)
	ts.conn.in <- Marshal(frame)
}

// --- Test Cases ---

func TestClient_Activate_SendsConnectAndHonorsConnected(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)

	ts.activate(t)

	frames := ts.conn.writtenFrames(t)
	require.NotEmpty(t, frames)
	connect := frames[0]
	assert.Equal(t, CommandConnect, connect.Command)
	assert.Equal(t, "1.2", connect.Headers[HeaderAcceptVersion])
	assert.Equal(t, "4000,4000", connect.Headers[HeaderHeartBeat])
}

func TestClient_Activate_SkipsHeartbeatsBeforeConnected(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)

	ts.conn.in <- Heartbeat()
	ts.conn.in <- Heartbeat()
	ts.activate(t)
}

func TestClient_Activate_ErrorFrameFailsHandshake(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)

	errFrame := NewFrame(CommandError, HeaderMessage, "bad credentials")
	ts.conn.in <- Marshal(errFrame)

	err := ts.client.Activate(context.Background())

	assert.ErrorIs(t, err, common.ErrProtocolFailure)
}

func TestClient_Activate_UnexpectedFrameFailsHandshake(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)

	ts.conn.in <- Marshal(NewFrame(CommandMessage, HeaderDestination, "x"))

	err := ts.client.Activate(context.Background())

	assert.ErrorIs(t, err, common.ErrProtocolFailure)
}

func TestClient_DispatchesMessageToTopicHandler(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)
	ts.activate(t)

	received := make(chan *Frame, 1)
	_, err := ts.client.Subscribe("user/42/notifications", func(frame *Frame) {
		received <- frame
	})
	require.NoError(t, err)

	ts.pushMessage("user/42/notifications", `{"id":1}`)

	select {
	case frame := <-received:
		assert.Equal(t, []byte(`{"id":1}`), frame.Body)
	case <-time.After(time.Second):
		t.Fatal("MESSAGE was not dispatched")
	}
}

func TestClient_MessageForUnknownTopicIsIgnored(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)
	ts.activate(t)

	received := make(chan *Frame, 1)
	_, err := ts.client.Subscribe("user/42/notifications", func(frame *Frame) {
		received <- frame
	})
	require.NoError(t, err)

	ts.pushMessage("provider/9/notifications", `{}`)

	select {
	case <-received:
		t.Fatal("handler must not receive another topic's MESSAGE")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case err := <-ts.protoErrs:
		t.Fatalf("unexpected protocol error: %v", err)
	default:
	}
}

func TestClient_Subscribe_ReplacesPreviousHandler(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)
	ts.activate(t)

	first := make(chan *Frame, 1)
	firstSub, err := ts.client.Subscribe("user/42/notifications", func(f *Frame) { first <- f })
	require.NoError(t, err)

	second := make(chan *Frame, 1)
	_, err = ts.client.Subscribe("user/42/notifications", func(f *Frame) { second <- f })
	require.NoError(t, err)

	// The wire saw SUBSCRIBE, UNSUBSCRIBE(first), SUBSCRIBE.
	frames := ts.conn.writtenFrames(t)
	require.Len(t, frames, 4) // CONNECT + the three above
	assert.Equal(t, CommandSubscribe, frames[1].Command)
	assert.Equal(t, CommandUnsubscribe, frames[2].Command)
	assert.Equal(t, frames[1].Headers[HeaderID], frames[2].Headers[HeaderID])
	assert.Equal(t, CommandSubscribe, frames[3].Command)

	ts.pushMessage("user/42/notifications", `{}`)
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("replacement handler did not receive the MESSAGE")
	}
	select {
	case <-first:
		t.Fatal("superseded handler must not receive frames")
	default:
	}

	// The stale handle is a no-op to unsubscribe.
	assert.NoError(t, ts.client.Unsubscribe(firstSub))
	assert.Len(t, ts.conn.writtenFrames(t), 4)
}

func TestClient_Unsubscribe_RemovesHandler(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)
	ts.activate(t)

	received := make(chan *Frame, 1)
	sub, err := ts.client.Subscribe("user/42/notifications", func(f *Frame) { received <- f })
	require.NoError(t, err)
	require.NoError(t, ts.client.Unsubscribe(sub))

	ts.pushMessage("user/42/notifications", `{}`)
	select {
	case <-received:
		t.Fatal("unsubscribed handler must not receive frames")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_ErrorFrameReportsProtocolAndKeepsReading(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)
	ts.activate(t)

	received := make(chan *Frame, 1)
	_, err := ts.client.Subscribe("user/42/notifications", func(f *Frame) { received <- f })
	require.NoError(t, err)

	ts.conn.in <- Marshal(NewFrame(CommandError, HeaderMessage, "subscription rejected"))

	select {
	case perr := <-ts.protoErrs:
		assert.ErrorIs(t, perr, common.ErrProtocolFailure)
	case <-time.After(time.Second):
		t.Fatal("ERROR frame was not reported")
	}

	// The read loop survives and still dispatches.
	ts.pushMessage("user/42/notifications", `{}`)
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("read loop died after ERROR frame")
	}
}

func TestClient_MalformedFrameReportsProtocolAndKeepsReading(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)
	ts.activate(t)

	received := make(chan *Frame, 1)
	_, err := ts.client.Subscribe("user/42/notifications", func(f *Frame) { received <- f })
	require.NoError(t, err)

	ts.conn.in <- []byte("GARBAGE\n\n\x00")

	select {
	case perr := <-ts.protoErrs:
		assert.ErrorIs(t, perr, common.ErrProtocolFailure)
	case <-time.After(time.Second):
		t.Fatal("malformed frame was not reported")
	}

	ts.pushMessage("user/42/notifications", `{}`)
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("read loop died after malformed frame")
	}
}

func TestClient_SocketFailureReportsTransport(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)
	ts.activate(t)

	// Simulate the peer dropping the socket.
	ts.conn.Close()

	select {
	case terr := <-ts.transErrs:
		assert.ErrorIs(t, terr, common.ErrTransportFailure)
	case <-time.After(time.Second):
		t.Fatal("socket failure was not reported")
	}
}

func TestClient_Deactivate_SendsDisconnectAndSilencesErrors(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)
	ts.activate(t)

	ts.client.Deactivate()
	ts.client.Deactivate() // safe to repeat

	frames := ts.conn.writtenFrames(t)
	assert.Equal(t, CommandDisconnect, frames[len(frames)-1].Command)
	assert.True(t, ts.conn.closed.Load())

	select {
	case terr := <-ts.transErrs:
		t.Fatalf("deliberate shutdown reported as transport error: %v", terr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_HeartbeatLoopWritesKeepAlives(t *testing.T) {
	ts := setupClientTestSuite(t, 10*time.Millisecond)

	// CONNECTED without a heart-beat header keeps our cadence.
	ts.conn.in <- Marshal(NewFrame(CommandConnected, HeaderVersion, "1.2"))
	require.NoError(t, ts.client.Activate(context.Background()))

	require.Eventually(t, func() bool {
		return ts.conn.heartbeatWrites() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestClient_NegotiateHeartbeats_ServerSlowsUsDown(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)

	ts.conn.in <- Marshal(NewFrame(CommandConnected,
		HeaderVersion, "1.2",
		HeaderHeartBeat, FormatHeartBeat(10*time.Second, 10*time.Second),
	))
	require.NoError(t, ts.client.Activate(context.Background()))

	assert.Equal(t, 10*time.Second, ts.client.heartbeatIn)
	assert.Equal(t, 10*time.Second, ts.client.heartbeatOut)
}

func TestClient_NegotiateHeartbeats_ZeroDisables(t *testing.T) {
	ts := setupClientTestSuite(t, 4*time.Second)

	ts.conn.in <- Marshal(NewFrame(CommandConnected,
		HeaderVersion, "1.2",
		HeaderHeartBeat, "0,0",
	))
	require.NoError(t, ts.client.Activate(context.Background()))

	assert.Equal(t, time.Duration(0), ts.client.heartbeatIn)
	assert.Equal(t, time.Duration(0), ts.client.heartbeatOut)
}
