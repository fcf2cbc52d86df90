package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parevo/entangle/internal/natdiscovery"
	"github.com/parevo/entangle/internal/protocol"
	"github.com/parevo/entangle/internal/signaling/broker"
)

func requireNetwork(t *testing.T) {
	t.Helper()
	if _, err := natdiscovery.PreferredOutboundIP(); err != nil {
		t.Skipf("no network available in test environment: %v", err)
	}
}

func startTestBroker(t *testing.T) string {
	t.Helper()
	b := broker.New()
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRendezvousApproveReachesActive(t *testing.T) {
	requireNetwork(t)
	sigURL := startTestBroker(t)

	hostID := protocol.NewPeerId()
	viewerID := protocol.NewPeerId()

	hostCfg := DefaultConfig()
	hostCfg.SignalingURL = sigURL
	hostCfg.ListenAddr = "127.0.0.1:0"
	hostSession := New(hostID, protocol.RoleHost, hostCfg)

	viewerCfg := DefaultConfig()
	viewerCfg.SignalingURL = sigURL
	viewerCfg.RemotePeerID = hostID
	viewerSession := New(viewerID, protocol.RoleViewer, viewerCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hostEvents := make(chan Event, 32)
	hostErrCh := make(chan error, 1)
	go func() {
		active, err := hostSession.Connect(ctx, func(e Event) { hostEvents <- e })
		if err != nil {
			hostErrCh <- err
			return
		}
		hostErrCh <- nil
		_ = active
	}()

	// Wait until the host publishes an incoming-connection event, then
	// approve it.
	var approveErr error
	approved := make(chan struct{})
	go func() {
		for e := range hostEvents {
			if e.Kind == EventIncomingConnection && e.From == viewerID {
				approveErr = hostSession.ResolvePendingConnection(viewerID, true)
				close(approved)
				return
			}
		}
	}()

	viewerErrCh := make(chan error, 1)
	var viewerActive *ActiveSession
	go func() {
		active, err := viewerSession.Connect(ctx, func(Event) {})
		viewerActive = active
		viewerErrCh <- err
	}()

	select {
	case <-approved:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for host to see IncomingConnection")
	}
	if approveErr != nil {
		t.Fatalf("ResolvePendingConnection: %v", approveErr)
	}

	if err := <-hostErrCh; err != nil {
		t.Fatalf("host Connect: %v", err)
	}
	if err := <-viewerErrCh; err != nil {
		t.Fatalf("viewer Connect: %v", err)
	}

	if hostSession.State() != protocol.StateActive {
		t.Fatalf("host state = %v, want Active", hostSession.State())
	}
	if viewerSession.State() != protocol.StateActive {
		t.Fatalf("viewer state = %v, want Active", viewerSession.State())
	}
	if hostSession.RemotePeerID() != viewerID {
		t.Fatalf("host remote peer = %v, want %v", hostSession.RemotePeerID(), viewerID)
	}
	if viewerActive == nil || viewerActive.Transport() == nil || !viewerActive.Transport().IsConnected() {
		t.Fatal("viewer transport not connected")
	}

	hostSession.Disconnect()
	viewerSession.Disconnect()
}

func TestResolvePendingConnectionRejectsMismatchedPeer(t *testing.T) {
	s := New(protocol.NewPeerId(), protocol.RoleHost, DefaultConfig())
	s.pendingMu.Lock()
	s.pending = &pendingConnection{from: protocol.NewPeerId(), decision: make(chan bool, 1)}
	s.pendingMu.Unlock()

	if err := s.ResolvePendingConnection(protocol.NewPeerId(), true); err == nil {
		t.Fatal("expected error for mismatched peer id")
	}
}

func TestResolvePendingConnectionWithoutPendingFails(t *testing.T) {
	s := New(protocol.NewPeerId(), protocol.RoleHost, DefaultConfig())
	if err := s.ResolvePendingConnection(protocol.NewPeerId(), true); err == nil {
		t.Fatal("expected error when no connection is pending")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := New(protocol.NewPeerId(), protocol.RoleViewer, DefaultConfig())
	s.setState(protocol.StateActive)
	s.running.Store(true)

	s.Disconnect()
	s.Disconnect()

	if s.State() != protocol.StateEnded {
		t.Fatalf("state = %v, want Ended", s.State())
	}
	if s.IsRunning() {
		t.Fatal("running flag should be cleared")
	}
}
