package broker

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parevo/entangle/internal/protocol"
)

func startTestBroker(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	b := New()
	srv := httptest.NewServer(b.Handler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	t.Cleanup(srv.Close)
	return srv, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, m protocol.SignalingMessage) {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recvJSON(t *testing.T, conn *websocket.Conn) protocol.SignalingMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m protocol.SignalingMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return m
}

func TestRegisterReceivesConfirmation(t *testing.T) {
	_, wsURL := startTestBroker(t)
	conn := dial(t, wsURL)

	id := protocol.NewPeerId()
	sendJSON(t, conn, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: id})

	reply := recvJSON(t, conn)
	if reply.Kind != protocol.SigRegistered || reply.PeerID != id {
		t.Fatalf("got %+v, want Registered{%v}", reply, id)
	}
}

func TestConnectToOnlinePeerForwardsIncomingConnection(t *testing.T) {
	_, wsURL := startTestBroker(t)
	host := dial(t, wsURL)
	viewer := dial(t, wsURL)

	hostID := protocol.NewPeerId()
	viewerID := protocol.NewPeerId()

	sendJSON(t, host, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: hostID})
	recvJSON(t, host) // Registered

	sendJSON(t, viewer, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: viewerID})
	recvJSON(t, viewer) // Registered

	sendJSON(t, viewer, protocol.SignalingMessage{Kind: protocol.SigConnect, TargetPeerID: hostID})

	incoming := recvJSON(t, host)
	if incoming.Kind != protocol.SigIncomingConnection || incoming.FromPeerID != viewerID {
		t.Fatalf("got %+v, want IncomingConnection{from=%v}", incoming, viewerID)
	}
}

func TestConnectToOfflinePeerQueuesAndErrors(t *testing.T) {
	_, wsURL := startTestBroker(t)
	viewer := dial(t, wsURL)

	viewerID := protocol.NewPeerId()
	sendJSON(t, viewer, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: viewerID})
	recvJSON(t, viewer) // Registered

	target := protocol.NewPeerId()
	sendJSON(t, viewer, protocol.SignalingMessage{Kind: protocol.SigConnect, TargetPeerID: target})

	errMsg := recvJSON(t, viewer)
	if errMsg.Kind != protocol.SigError {
		t.Fatalf("got %+v, want Error", errMsg)
	}

	// When the target later registers, it should receive the queued
	// IncomingConnection.
	host := dial(t, wsURL)
	sendJSON(t, host, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: target})
	recvJSON(t, host) // Registered

	incoming := recvJSON(t, host)
	if incoming.Kind != protocol.SigIncomingConnection || incoming.FromPeerID != viewerID {
		t.Fatalf("got %+v, want queued IncomingConnection{from=%v}", incoming, viewerID)
	}
}

func TestAcceptNotifiesBothPeers(t *testing.T) {
	_, wsURL := startTestBroker(t)
	host := dial(t, wsURL)
	viewer := dial(t, wsURL)

	hostID := protocol.NewPeerId()
	viewerID := protocol.NewPeerId()

	sendJSON(t, host, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: hostID})
	recvJSON(t, host)
	sendJSON(t, viewer, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: viewerID})
	recvJSON(t, viewer)

	sendJSON(t, viewer, protocol.SignalingMessage{Kind: protocol.SigConnect, TargetPeerID: hostID})
	recvJSON(t, host) // IncomingConnection

	sendJSON(t, host, protocol.SignalingMessage{Kind: protocol.SigAccept, FromPeerID: viewerID})

	viewerSideConnected := recvJSON(t, viewer)
	if viewerSideConnected.Kind != protocol.SigConnected || viewerSideConnected.PeerID != hostID {
		t.Fatalf("viewer got %+v, want Connected{%v}", viewerSideConnected, hostID)
	}
	hostSideConnected := recvJSON(t, host)
	if hostSideConnected.Kind != protocol.SigConnected || hostSideConnected.PeerID != viewerID {
		t.Fatalf("host got %+v, want Connected{%v}", hostSideConnected, viewerID)
	}
}

func TestIceCandidateRewritesTargetToSender(t *testing.T) {
	_, wsURL := startTestBroker(t)
	host := dial(t, wsURL)
	viewer := dial(t, wsURL)

	hostID := protocol.NewPeerId()
	viewerID := protocol.NewPeerId()

	sendJSON(t, host, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: hostID})
	recvJSON(t, host)
	sendJSON(t, viewer, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: viewerID})
	recvJSON(t, viewer)

	cand := protocol.IceCandidate{CandidateType: protocol.CandidateHost, Address: "10.0.0.5", Port: 4000}
	sendJSON(t, viewer, protocol.SignalingMessage{Kind: protocol.SigIceCandidate, TargetPeerID: hostID, Candidate: cand})

	got := recvJSON(t, host)
	if got.Kind != protocol.SigIceCandidate {
		t.Fatalf("got %+v, want IceCandidate", got)
	}
	// The broker must rewrite target_peer_id to the sender's id: from the
	// host's perspective, the remote endpoint is the viewer.
	if got.TargetPeerID != viewerID {
		t.Fatalf("TargetPeerID = %v, want sender id %v", got.TargetPeerID, viewerID)
	}
	if got.Candidate != cand {
		t.Fatalf("candidate mismatch: got %+v, want %+v", got.Candidate, cand)
	}
}

func TestPingRepliesWithPong(t *testing.T) {
	_, wsURL := startTestBroker(t)
	conn := dial(t, wsURL)

	sendJSON(t, conn, protocol.SignalingMessage{Kind: protocol.SigPing})
	reply := recvJSON(t, conn)
	if reply.Kind != protocol.SigPong {
		t.Fatalf("got %+v, want Pong", reply)
	}
}

func TestSecondRegistrationSupersedesFirst(t *testing.T) {
	_, wsURL := startTestBroker(t)
	first := dial(t, wsURL)
	second := dial(t, wsURL)

	id := protocol.NewPeerId()
	sendJSON(t, first, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: id})
	recvJSON(t, first)

	sendJSON(t, second, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: id})
	recvJSON(t, second)

	// The first connection's outbox should now be closed; reading from
	// it should observe a close rather than further application messages.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	if err == nil {
		t.Fatal("expected first registration's connection to be closed")
	}
}

func TestMalformedMessageIsDroppedNotFatal(t *testing.T) {
	_, wsURL := startTestBroker(t)
	conn := dial(t, wsURL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection should still be usable afterward.
	id := protocol.NewPeerId()
	sendJSON(t, conn, protocol.SignalingMessage{Kind: protocol.SigRegister, PeerID: id})
	reply := recvJSON(t, conn)
	if reply.Kind != protocol.SigRegistered {
		t.Fatalf("got %+v, want Registered after malformed message was dropped", reply)
	}
}
