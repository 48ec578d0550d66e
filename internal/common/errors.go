// File: internal/common/errors.go
package common

import (
	"errors"
	"fmt"
)

// Kind classifies client-side failures. The taxonomy matters for propagation:
// transport/protocol failures are retried by the supervisor and never reach
// callers directly; API failures propagate to the caller that triggered the
// operation.
type Kind string

const (
	KindTransport Kind = "TRANSPORT"
	KindProtocol  Kind = "PROTOCOL"
	KindTerminal  Kind = "TERMINAL"
	KindDecode    Kind = "DECODE"
	KindAPI       Kind = "API"
)

// ClientError represents a standard structure for errors surfaced by the
// notification client.
type ClientError struct {
	Kind    Kind        `json:"kind"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("ClientError: Kind=%s, Code=%s, Message=%s", e.Kind, e.Code, e.Message)
}

// Is lets errors.Is match any ClientError of the same kind and code, so the
// sentinel values below work as comparison targets after WithDetails or
// fmt.Errorf wrapping.
func (e *ClientError) Is(target error) bool {
	var other *ClientError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind && e.Code == other.Code
}

func NewClientError(kind Kind, code, message string) *ClientError {
	return &ClientError{Kind: kind, Code: code, Message: message}
}

// WithDetails returns a copy carrying extra context. The sentinel values stay
// untouched so concurrent users never observe each other's details.
func (e *ClientError) WithDetails(details interface{}) *ClientError {
	clone := *e
	clone.Details = details
	return &clone
}

var (
	ErrTransportFailure = NewClientError(KindTransport, "TRANSPORT_FAILURE", "The realtime connection failed at the socket level.")
	ErrProtocolFailure  = NewClientError(KindProtocol, "PROTOCOL_FAILURE", "The broker rejected or garbled a protocol frame.")
	ErrTerminalFailure  = NewClientError(KindTerminal, "RECONNECT_EXHAUSTED", "Live updates stopped after exhausting reconnection attempts.")
	ErrFrameDecode      = NewClientError(KindDecode, "FRAME_DECODE", "An inbound frame body could not be decoded.")
	ErrAPIFailure       = NewClientError(KindAPI, "API_FAILURE", "The notification API rejected the request.")
	ErrNotFound         = NewClientError(KindAPI, "NOT_FOUND", "The requested notification could not be found.")
)

// IsClientError unwraps err into a *ClientError when possible.
func IsClientError(err error) (*ClientError, bool) {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr, true
	}
	return nil, false
}
