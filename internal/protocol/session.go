package protocol

import "github.com/google/uuid"

// SessionRole determines the direction of media and input for a session.
type SessionRole uint8

const (
	RoleHost SessionRole = iota
	RoleViewer
)

func (r SessionRole) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleViewer:
		return "viewer"
	default:
		return "unknown"
	}
}

// SessionState is the session's finite state. Only forward transitions are
// permitted except Active <-> Paused; any non-terminal state may transition
// to Failed on unrecoverable error.
type SessionState uint8

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateWaitingForPeer
	StateNatTraversal
	StateHandshaking
	StateActive
	StatePaused
	StateEnded
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateWaitingForPeer:
		return "waiting_for_peer"
	case StateNatTraversal:
		return "nat_traversal"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is Ended or Failed.
func (s SessionState) IsTerminal() bool {
	return s == StateEnded || s == StateFailed
}

// QualityPreset seeds the rate controller's initial set-points. It is
// distinct from ratecontrol.EncodingParams.Quality, a continuously adjusted
// 30-100 value; the preset is chosen once at connect time.
type QualityPreset uint8

const (
	QualityLowLatency QualityPreset = iota
	QualityBalanced
	QualityHighQuality
)

func (q QualityPreset) String() string {
	switch q {
	case QualityLowLatency:
		return "low_latency"
	case QualityBalanced:
		return "balanced"
	case QualityHighQuality:
		return "high_quality"
	default:
		return "unknown"
	}
}

// ParseQualityPreset parses the config-file/CLI spelling of a preset,
// falling back to Balanced for anything unrecognized.
func ParseQualityPreset(s string) QualityPreset {
	switch s {
	case "low_latency":
		return QualityLowLatency
	case "high_quality":
		return QualityHighQuality
	default:
		return QualityBalanced
	}
}

// SessionConfig seeds a session's media parameters.
type SessionConfig struct {
	Quality         QualityPreset
	TargetFPS       uint8
	MaxBitrateKbps  uint32
	AudioEnabled    bool
	ClipboardSync   bool
	FileTransfer    bool
}

// DefaultSessionConfig matches the original source's defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Quality:        QualityLowLatency,
		TargetFPS:      30,
		MaxBitrateKbps: 5000,
		AudioEnabled:   false,
		ClipboardSync:  true,
		FileTransfer:   true,
	}
}

// SessionMessageKind discriminates the SessionMessage tagged union. This
// control-channel type is carried as a wire placeholder for a future
// reliable control stream; it is not constructed by the active session
// state machine (see DESIGN.md).
type SessionMessageKind uint8

const (
	MsgHello SessionMessageKind = iota
	MsgHelloAck
	MsgConfigure
	MsgRequestKeyframe
	MsgPause
	MsgResume
	MsgGoodbye
	MsgPing
	MsgPong
	MsgAdjustQuality
)

// SessionMessage is the unwired control-channel tagged union, retained for
// forward compatibility with a future reliable control stream.
type SessionMessage struct {
	Kind SessionMessageKind

	// Hello
	PeerID          PeerId
	ProtocolVersion uint32
	Role            SessionRole
	PublicKey       [32]byte

	// HelloAck
	SessionID uuid.UUID

	// Configure
	Config SessionConfig

	// Goodbye
	Reason string

	// Ping / Pong
	TimestampUs     uint64
	PingTimestampUs uint64

	// AdjustQuality
	TargetBitrateKbps uint32
	TargetFPS         uint8
}
