// Package stomp implements the subset of STOMP 1.2 the QuickFix broker
// speaks: connect handshake, topic subscribe/unsubscribe, server-pushed
// MESSAGE frames and bidirectional heart-beats, layered over any
// transport.Conn.
package stomp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Command is the verb on the first line of a frame.
type Command string

const (
	CommandConnect     Command = "CONNECT"
	CommandConnected   Command = "CONNECTED"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandSend        Command = "SEND"
	CommandMessage     Command = "MESSAGE"
	CommandError       Command = "ERROR"
	CommandDisconnect  Command = "DISCONNECT"
)

// Well-known header names.
const (
	HeaderAcceptVersion = "accept-version"
	HeaderVersion       = "version"
	HeaderHeartBeat     = "heart-beat"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderMessage       = "message"
	HeaderMessageID     = "message-id"
	HeaderSubscription  = "subscription"
	HeaderAck           = "ack"
	HeaderContentType   = "content-type"
)

// heartbeatFrame is the EOL a peer sends as a keep-alive between frames.
var heartbeatFrame = []byte("\n")

// Frame is one discrete protocol message.
type Frame struct {
	Command Command
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame from alternating header key/value pairs.
func NewFrame(command Command, headers ...string) *Frame {
	f := &Frame{Command: command, Headers: make(map[string]string, len(headers)/2)}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers[headers[i]] = headers[i+1]
	}
	return f
}

// IsHeartbeat reports whether raw data is a bare keep-alive rather than a frame.
func IsHeartbeat(data []byte) bool {
	trimmed := bytes.Trim(data, "\r\n")
	return len(trimmed) == 0
}

// Heartbeat returns the wire form of a keep-alive.
func Heartbeat() []byte {
	return heartbeatFrame
}

// Marshal encodes a frame: command line, escaped headers, blank line, body,
// NUL terminator.
func Marshal(f *Frame) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(f.Command))
	buf.WriteByte('\n')
	for k, v := range f.Headers {
		buf.WriteString(escapeHeader(k))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(v))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Parse decodes one frame. A bare heart-beat yields (nil, nil). Any grammar
// violation is a protocol-level error; the caller decides whether that tears
// down the connection.
func Parse(data []byte) (*Frame, error) {
	if IsHeartbeat(data) {
		return nil, nil
	}
	// Tolerate EOLs queued ahead of the frame (heart-beats flushed together
	// with a frame by the server).
	data = bytes.TrimLeft(data, "\r\n")

	head, body, found := bytes.Cut(data, []byte("\n\n"))
	if !found {
		return nil, fmt.Errorf("malformed frame: missing header terminator")
	}

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	command := Command(lines[0])
	switch command {
	case CommandConnect, CommandConnected, CommandSubscribe, CommandUnsubscribe,
		CommandSend, CommandMessage, CommandError, CommandDisconnect:
	default:
		return nil, fmt.Errorf("malformed frame: unknown command %q", lines[0])
	}

	f := &Frame{Command: command, Headers: make(map[string]string, len(lines)-1)}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed frame: header line %q has no colon", line)
		}
		uk, err := unescapeHeader(key)
		if err != nil {
			return nil, err
		}
		uv, err := unescapeHeader(value)
		if err != nil {
			return nil, err
		}
		// Repeated headers: first one wins, per the STOMP spec.
		if _, exists := f.Headers[uk]; !exists {
			f.Headers[uk] = uv
		}
	}

	if idx := bytes.IndexByte(body, 0); idx >= 0 {
		body = body[:idx]
	}
	if len(body) > 0 {
		f.Body = body
	}
	return f, nil
}

// ParseHeartBeat parses a "sx,sy" heart-beat header into the two millisecond
// intervals.
func ParseHeartBeat(value string) (tx, rx time.Duration, err error) {
	sx, sy, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0, fmt.Errorf("malformed heart-beat header %q", value)
	}
	x, err := strconv.Atoi(strings.TrimSpace(sx))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed heart-beat header %q: %w", value, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(sy))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed heart-beat header %q: %w", value, err)
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond, nil
}

// FormatHeartBeat renders a heart-beat header value from two intervals.
func FormatHeartBeat(tx, rx time.Duration) string {
	return fmt.Sprintf("%d,%d", tx.Milliseconds(), rx.Milliseconds())
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

func escapeHeader(s string) string {
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("malformed header escape in %q", s)
		}
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("malformed header escape %q in %q", s[i], s)
		}
	}
	return b.String(), nil
}
