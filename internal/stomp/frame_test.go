package stomp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_MarshalParseRoundTrip(t *testing.T) {
	frame := NewFrame(CommandMessage,
		HeaderDestination, "user/42/notifications",
		HeaderMessageID, "m-1",
		HeaderSubscription, "s-1",
		HeaderContentType, "application/json",
	)
	frame.Body = []byte(`{"id":7}`)

	parsed, err := Parse(Marshal(frame))

	require.NoError(t, err)
	assert.Equal(t, CommandMessage, parsed.Command)
	assert.Equal(t, frame.Headers, parsed.Headers)
	assert.Equal(t, frame.Body, parsed.Body)
}

func TestFrame_HeaderEscapingRoundTrip(t *testing.T) {
	frame := NewFrame(CommandError,
		HeaderMessage, "bad destination: \"a:b\"\nline two \\ done",
	)

	parsed, err := Parse(Marshal(frame))

	require.NoError(t, err)
	assert.Equal(t, "bad destination: \"a:b\"\nline two \\ done", parsed.Headers[HeaderMessage])
}

func TestFrame_ParseHeartbeatYieldsNil(t *testing.T) {
	for _, raw := range []string{"\n", "\r\n", ""} {
		frame, err := Parse([]byte(raw))
		assert.NoError(t, err)
		assert.Nil(t, frame)
	}
}

func TestFrame_IsHeartbeat(t *testing.T) {
	assert.True(t, IsHeartbeat([]byte("\n")))
	assert.True(t, IsHeartbeat([]byte("\r\n")))
	assert.True(t, IsHeartbeat(Heartbeat()))
	assert.False(t, IsHeartbeat([]byte("CONNECT\n\n\x00")))
}

func TestFrame_ParseToleratesLeadingHeartbeats(t *testing.T) {
	raw := append([]byte("\n\n\r\n"), Marshal(NewFrame(CommandConnected, HeaderVersion, "1.2"))...)

	parsed, err := Parse(raw)

	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, CommandConnected, parsed.Command)
	assert.Equal(t, "1.2", parsed.Headers[HeaderVersion])
}

func TestFrame_ParseRepeatedHeaderFirstWins(t *testing.T) {
	raw := []byte("MESSAGE\ndestination:first\ndestination:second\n\nbody\x00")

	parsed, err := Parse(raw)

	require.NoError(t, err)
	assert.Equal(t, "first", parsed.Headers[HeaderDestination])
}

func TestFrame_ParseTrimsAtNUL(t *testing.T) {
	raw := []byte("MESSAGE\ndestination:d\n\npayload\x00trailing garbage")

	parsed, err := Parse(raw)

	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), parsed.Body)
}

func TestFrame_ParseErrors(t *testing.T) {
	cases := map[string]string{
		"missing header terminator": "CONNECT\naccept-version:1.2\x00",
		"unknown command":           "BOGUS\n\n\x00",
		"header without colon":      "MESSAGE\nnocolonhere\n\n\x00",
		"bad escape sequence":       "MESSAGE\ndestination:a\\qb\n\n\x00",
		"dangling escape":           "MESSAGE\ndestination:a\\\n\n\x00",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestFrame_HeartBeatHeader(t *testing.T) {
	assert.Equal(t, "4000,4000", FormatHeartBeat(4*time.Second, 4*time.Second))
	assert.Equal(t, "0,10000", FormatHeartBeat(0, 10*time.Second))

	tx, rx, err := ParseHeartBeat("4000,8000")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, tx)
	assert.Equal(t, 8*time.Second, rx)

	_, _, err = ParseHeartBeat("4000")
	assert.Error(t, err)
	_, _, err = ParseHeartBeat("a,b")
	assert.Error(t, err)
}
