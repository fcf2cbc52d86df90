// Package session implements the role-specific connect sequence and finite
// state machine shared by Host and Viewer peers: signaling rendezvous, NAT
// candidate exchange, and transport handshake, yielding an ActiveSession
// once the direct path is up.
package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parevo/entangle/internal/logging"
	"github.com/parevo/entangle/internal/natdiscovery"
	"github.com/parevo/entangle/internal/protocol"
	"github.com/parevo/entangle/internal/signaling/client"
	"github.com/parevo/entangle/internal/transport"
)

var log = logging.L("session")

// DefaultTransportPort is the well-known QUIC port a Host listens on when
// no explicit bind address is configured.
const DefaultTransportPort = 19823

// DefaultSignalingURL is the broker address used when none is configured.
const DefaultSignalingURL = "ws://localhost:8080/ws"

const (
	registrationTimeout = 5 * time.Second
	incomingWaitTimeout = 60 * time.Second
	approvalTimeout     = 120 * time.Second
	candidateTimeout    = 120 * time.Second
)

// Config seeds a Session's rendezvous and media parameters.
type Config struct {
	SignalingURL string
	RemotePeerID protocol.PeerId // Viewer only: the Host to connect to.
	Quality      protocol.QualityPreset
	STUNServer   string
	ListenAddr   string // Host only; defaults to ":<DefaultTransportPort>".
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		SignalingURL: DefaultSignalingURL,
		Quality:      protocol.QualityLowLatency,
		STUNServer:   natdiscovery.DefaultSTUNServer,
		ListenAddr:   fmt.Sprintf(":%d", DefaultTransportPort),
	}
}

// Stats is the session's latest reported metrics snapshot.
type Stats struct {
	RTTMs       float64
	FPS         float64
	BitrateKbps uint32
	FramesSent  uint64
	BytesSent   uint64
	PacketsLost uint64
}

// EventKind discriminates the tagged union delivered to a Session's
// notify callback.
type EventKind uint8

const (
	EventStateChanged EventKind = iota
	EventIncomingConnection
	EventVideoFrame
	EventStats
	EventError
)

// Event is the tagged union of everything a Session reports to its
// application-level observer.
type Event struct {
	Kind EventKind

	// StateChanged
	State protocol.SessionState

	// IncomingConnection
	From protocol.PeerId

	// VideoFrame
	FrameData   []byte
	IsKeyframe  bool
	TimestampUs uint64
	Width       uint32
	Height      uint32
	FrameID     uint64

	// Stats
	StatsSnapshot Stats

	// Error
	Err error
}

// pendingConnection is the single in-flight approval request a Host may
// hold at a time. resolvePendingConnection atomically takes it.
type pendingConnection struct {
	from     protocol.PeerId
	decision chan bool
}

// Session is owned exclusively by the application until Disconnect; once
// Connect succeeds, the returned ActiveSession shares it with background
// workers via reference counting (Go's GC plays that role here -- there is
// no explicit refcount to decrement).
type Session struct {
	ourPeerID protocol.PeerId
	role      protocol.SessionRole
	cfg       Config

	stateMu sync.RWMutex
	state   protocol.SessionState

	statsMu sync.RWMutex
	stats   Stats

	running       atomic.Bool
	inputSequence atomic.Uint64

	pendingMu sync.Mutex
	pending   *pendingConnection

	remoteMu sync.RWMutex
	remote   protocol.PeerId // known upfront for Viewer, learned for Host

	sig       *client.Client
	transport *transport.Transport
}

// New creates a Session in the Disconnected state. It does not open any
// network connection.
func New(ourPeerID protocol.PeerId, role protocol.SessionRole, cfg Config) *Session {
	s := &Session{
		ourPeerID: ourPeerID,
		role:      role,
		cfg:       cfg,
		state:     protocol.StateDisconnected,
	}
	if role == protocol.RoleViewer {
		s.remote = cfg.RemotePeerID
	}
	return s
}

// OurPeerID returns this process's peer id.
func (s *Session) OurPeerID() protocol.PeerId { return s.ourPeerID }

// Role returns Host or Viewer.
func (s *Session) Role() protocol.SessionRole { return s.role }

// State returns the session's current state.
func (s *Session) State() protocol.SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(state protocol.SessionState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// Stats returns a copy of the session's latest reported metrics.
func (s *Session) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

func (s *Session) setStats(stats Stats) {
	s.statsMu.Lock()
	s.stats = stats
	s.statsMu.Unlock()
}

// SetStats lets a pipeline's stats worker publish a fresh snapshot.
func (s *Session) SetStats(stats Stats) { s.setStats(stats) }

// RemotePeerID returns the id of the peer on the other end, which for a
// Host is unknown until an incoming connection is accepted.
func (s *Session) RemotePeerID() protocol.PeerId {
	s.remoteMu.RLock()
	defer s.remoteMu.RUnlock()
	return s.remote
}

func (s *Session) setRemotePeerID(id protocol.PeerId) {
	s.remoteMu.Lock()
	s.remote = id
	s.remoteMu.Unlock()
}

// IsRunning reports the atomic running flag, the universal cancellation
// signal every worker loop checks before its next iteration.
func (s *Session) IsRunning() bool { return s.running.Load() }

// NextInputSequence returns a fresh monotonic sequence number for an
// outbound InputPacket.
func (s *Session) NextInputSequence() uint64 { return s.inputSequence.Add(1) - 1 }

// Connect runs the role-specific connect sequence to completion (or
// failure) and, on success, returns an ActiveSession sharing this Session
// and its transport with the caller's background workers. notify is
// invoked (non-blockingly from the caller's perspective is NOT guaranteed;
// callers should make it fast or buffer internally) for every Event
// raised during and after the connect sequence.
func (s *Session) Connect(ctx context.Context, notify func(Event)) (*ActiveSession, error) {
	if notify == nil {
		notify = func(Event) {}
	}

	s.setState(protocol.StateConnecting)
	notify(Event{Kind: EventStateChanged, State: protocol.StateConnecting})

	sig := client.New(s.cfg.SignalingURL)
	go sig.Run()
	s.sig = sig

	if err := s.registerAndAwaitConfirmation(ctx); err != nil {
		sig.Close()
		s.setState(protocol.StateFailed)
		return nil, err
	}

	var err error
	switch s.role {
	case protocol.RoleHost:
		err = s.hostConnect(ctx, notify)
	case protocol.RoleViewer:
		err = s.viewerConnect(ctx, notify)
	default:
		err = &ConnectionError{Msg: fmt.Sprintf("unknown role %v", s.role)}
	}
	if err != nil {
		sig.Close()
		s.setState(protocol.StateFailed)
		notify(Event{Kind: EventStateChanged, State: protocol.StateFailed})
		return nil, err
	}

	s.setState(protocol.StateActive)
	s.running.Store(true)
	notify(Event{Kind: EventStateChanged, State: protocol.StateActive})

	return &ActiveSession{session: s}, nil
}

func (s *Session) registerAndAwaitConfirmation(ctx context.Context) error {
	if err := s.sig.Send(protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: s.ourPeerID}); err != nil {
		return &ConnectionError{Msg: fmt.Sprintf("send Register: %v", err)}
	}

	deadline := time.After(registrationTimeout)
	for {
		select {
		case msg := <-s.sig.Messages():
			switch msg.Kind {
			case protocol.SigRegistered:
				if msg.PeerID == s.ourPeerID {
					return nil
				}
			case protocol.SigError:
				return &ConnectionError{Msg: msg.Message}
			}
		case <-deadline:
			return &ConnectionError{Msg: "timed out waiting for Registered"}
		case <-ctx.Done():
			return &ConnectionError{Msg: ctx.Err().Error()}
		}
	}
}

// hostConnect binds a listener, discovers a reachable local address, and
// waits for a Viewer to request and be approved, per spec section 4.6.
func (s *Session) hostConnect(ctx context.Context, notify func(Event)) error {
	s.setState(protocol.StateWaitingForPeer)
	notify(Event{Kind: EventStateChanged, State: protocol.StateWaitingForPeer})

	listenAddr := s.cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%d", DefaultTransportPort)
	}
	tp, err := transport.NewServer(listenAddr)
	if err != nil {
		return &TransportError{Msg: err.Error()}
	}
	s.transport = tp

	// Re-derive the port from what the listener actually bound to, since
	// listenAddr may have requested an ephemeral port (":0").
	_, portStr, err := net.SplitHostPort(tp.ListenAddr().String())
	if err != nil {
		return &TransportError{Msg: fmt.Sprintf("parse bound listen addr: %v", err)}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return &TransportError{Msg: fmt.Sprintf("parse listen port: %v", err)}
	}

	s.setState(protocol.StateNatTraversal)
	notify(Event{Kind: EventStateChanged, State: protocol.StateNatTraversal})

	localIP, err := natdiscovery.PreferredOutboundIP()
	if err != nil {
		return &ConnectionError{Msg: fmt.Sprintf("discover local address: %v", err)}
	}

	approvedPeer, err := s.awaitApprovedIncomingConnection(ctx, notify)
	if err != nil {
		return err
	}
	s.setRemotePeerID(approvedPeer)

	candidate := natdiscovery.LocalHostCandidate(localIP, uint16(port))
	if err := s.sig.Send(protocol.SignalingMessage{
		Kind:         protocol.SigIceCandidate,
		TargetPeerID: approvedPeer,
		Candidate:    candidate,
	}); err != nil {
		return &ConnectionError{Msg: fmt.Sprintf("send IceCandidate: %v", err)}
	}

	if reflexive, err := natdiscovery.DiscoverServerReflexive(ctx, s.cfg.STUNServer); err != nil {
		log.Warn("server-reflexive discovery failed, continuing with host candidate only", "error", err)
	} else if err := s.sig.Send(protocol.SignalingMessage{
		Kind:         protocol.SigIceCandidate,
		TargetPeerID: approvedPeer,
		Candidate:    reflexive,
	}); err != nil {
		return &ConnectionError{Msg: fmt.Sprintf("send IceCandidate: %v", err)}
	}

	s.setState(protocol.StateHandshaking)
	notify(Event{Kind: EventStateChanged, State: protocol.StateHandshaking})

	if err := s.transport.Accept(ctx); err != nil {
		return &TransportError{Msg: err.Error()}
	}
	return nil
}

// awaitApprovedIncomingConnection loops waiting for IncomingConnection
// messages, publishing each as a pending-connection token the application
// resolves via ResolvePendingConnection, until one is approved.
func (s *Session) awaitApprovedIncomingConnection(ctx context.Context, notify func(Event)) (protocol.PeerId, error) {
	for {
		from, err := s.awaitIncomingConnection(ctx)
		if err != nil {
			return protocol.PeerId{}, err
		}

		decision := make(chan bool, 1)
		s.pendingMu.Lock()
		s.pending = &pendingConnection{from: from, decision: decision}
		s.pendingMu.Unlock()

		notify(Event{Kind: EventIncomingConnection, From: from})

		approved := false
		reason := "rejected"
		select {
		case approved = <-decision:
		case <-time.After(approvalTimeout):
			reason = "approval timed out"
		case <-ctx.Done():
			return protocol.PeerId{}, &ConnectionError{Msg: ctx.Err().Error()}
		}

		s.pendingMu.Lock()
		s.pending = nil
		s.pendingMu.Unlock()

		if approved {
			if err := s.sig.Send(protocol.SignalingMessage{Kind: protocol.SigAccept, FromPeerID: from}); err != nil {
				return protocol.PeerId{}, &ConnectionError{Msg: fmt.Sprintf("send Accept: %v", err)}
			}
			return from, nil
		}

		_ = s.sig.Send(protocol.SignalingMessage{
			Kind:       protocol.SigReject,
			FromPeerID: from,
			Reason:     reason,
		})
		// Fall through and keep waiting for the next request.
	}
}

func (s *Session) awaitIncomingConnection(ctx context.Context) (protocol.PeerId, error) {
	for {
		select {
		case msg := <-s.sig.Messages():
			if msg.Kind == protocol.SigIncomingConnection {
				return msg.FromPeerID, nil
			}
		case <-time.After(incomingWaitTimeout):
			// No requester this iteration. The 60s figure (spec section 5)
			// only bounds how often we re-check ctx/running; waiting for a
			// Viewer has no overall deadline, so we loop again.
			continue
		case <-ctx.Done():
			return protocol.PeerId{}, &ConnectionError{Msg: ctx.Err().Error()}
		}
	}
}

// viewerConnect sends Connect and waits for a matching IceCandidate, then
// dials the Host's transport, per spec section 4.6.
func (s *Session) viewerConnect(ctx context.Context, notify func(Event)) error {
	s.setState(protocol.StateWaitingForPeer)
	notify(Event{Kind: EventStateChanged, State: protocol.StateWaitingForPeer})

	s.transport = transport.NewClient()

	remote := s.RemotePeerID()
	if err := s.sig.Send(protocol.SignalingMessage{Kind: protocol.SigConnect, TargetPeerID: remote}); err != nil {
		return &ConnectionError{Msg: fmt.Sprintf("send Connect: %v", err)}
	}

	s.setState(protocol.StateNatTraversal)
	notify(Event{Kind: EventStateChanged, State: protocol.StateNatTraversal})

	candidate, err := s.awaitMatchingCandidate(ctx, remote)
	if err != nil {
		return err
	}

	s.setState(protocol.StateHandshaking)
	notify(Event{Kind: EventStateChanged, State: protocol.StateHandshaking})

	addr := net.JoinHostPort(candidate.Address, strconv.Itoa(int(candidate.Port)))
	dialCtx, cancel := context.WithTimeout(ctx, candidateTimeout)
	defer cancel()
	if err := s.transport.Connect(dialCtx, addr, transport.ServerName); err != nil {
		return &TransportError{Msg: err.Error()}
	}
	return nil
}

func (s *Session) awaitMatchingCandidate(ctx context.Context, remote protocol.PeerId) (protocol.IceCandidate, error) {
	deadline := time.After(candidateTimeout)
	for {
		select {
		case msg := <-s.sig.Messages():
			switch msg.Kind {
			case protocol.SigIceCandidate:
				if msg.TargetPeerID == remote {
					return msg.Candidate, nil
				}
			case protocol.SigError:
				// The broker replies Error{"queued"} immediately when the
				// target isn't registered yet; that is not fatal here, we
				// keep waiting for the candidate it promises once the Host
				// registers and accepts.
				log.Debug("signaling error while awaiting candidate", "message", msg.Message)
			}
		case <-deadline:
			return protocol.IceCandidate{}, &ConnectionError{Msg: "timed out waiting for IceCandidate"}
		case <-ctx.Done():
			return protocol.IceCandidate{}, &ConnectionError{Msg: ctx.Err().Error()}
		}
	}
}

// ResolvePendingConnection atomically takes the Host's single pending
// approval slot. It returns ConnectionError if from does not match the
// peer the slot was opened for (including if there is no pending slot).
func (s *Session) ResolvePendingConnection(from protocol.PeerId, approved bool) error {
	s.pendingMu.Lock()
	p := s.pending
	if p == nil {
		s.pendingMu.Unlock()
		return &ConnectionError{Msg: "no pending connection"}
	}
	if p.from != from {
		s.pendingMu.Unlock()
		return &ConnectionError{Msg: "mismatched peer id"}
	}
	s.pending = nil
	s.pendingMu.Unlock()

	select {
	case p.decision <- approved:
	default:
	}
	return nil
}

// Disconnect stops all workers and transitions to Ended. It is idempotent.
func (s *Session) Disconnect() {
	if !s.running.CompareAndSwap(true, false) {
		if s.State() == protocol.StateEnded {
			return
		}
	}
	if s.transport != nil {
		_ = s.transport.Close("session disconnected")
	}
	if s.sig != nil {
		s.sig.Close()
	}
	s.setState(protocol.StateEnded)
}
