package session

import (
	"errors"
	"fmt"
)

// Sentinel errors that carry no dynamic detail.
var (
	ErrNotActive   = errors.New("session: not active")
	ErrChannelError = errors.New("session: channel closed unexpectedly")
)

// ConnectionError wraps a failure in the signaling/rendezvous sequence:
// registration timeout, candidate mismatch, broker error reply.
type ConnectionError struct{ Msg string }

func (e *ConnectionError) Error() string { return fmt.Sprintf("session: connection failed: %s", e.Msg) }

// TransportError wraps a failure from internal/transport surfaced during
// connect or active use.
type TransportError struct{ Msg string }

func (e *TransportError) Error() string { return fmt.Sprintf("session: transport error: %s", e.Msg) }

// CaptureError wraps a failure from the capture back-end.
type CaptureError struct{ Msg string }

func (e *CaptureError) Error() string { return fmt.Sprintf("session: capture error: %s", e.Msg) }

// EncodingError wraps a failure from the video encoder.
type EncodingError struct{ Msg string }

func (e *EncodingError) Error() string { return fmt.Sprintf("session: encoding error: %s", e.Msg) }
