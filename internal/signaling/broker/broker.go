// Package broker implements the stateless signaling server: peer
// registration, connection-request routing, and ICE candidate relay over
// WebSocket. It never touches media; once two peers agree to connect they
// move to internal/transport entirely on their own.
package broker

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parevo/entangle/internal/health"
	"github.com/parevo/entangle/internal/logging"
	"github.com/parevo/entangle/internal/protocol"
)

var log = logging.L("signaling-broker")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outboxCapacity = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// peerConnection is one registered peer's outbound mailbox.
type peerConnection struct {
	peerID     protocol.PeerId
	outbox     chan protocol.SignalingMessage
	remoteAddr string
	closeOnce  sync.Once
}

func (p *peerConnection) close() {
	p.closeOnce.Do(func() { close(p.outbox) })
}

// Broker holds no media state, only the registry needed to route signaling
// messages: who is online, and who is waiting to reach someone who isn't.
type Broker struct {
	mu                 sync.Mutex
	peers              map[protocol.PeerId]*peerConnection
	pendingConnections map[protocol.PeerId][]protocol.PeerId

	health *health.Monitor
}

// New constructs an empty Broker.
func New() *Broker {
	return &Broker{
		peers:              make(map[protocol.PeerId]*peerConnection),
		pendingConnections: make(map[protocol.PeerId][]protocol.PeerId),
		health:             health.NewMonitor(),
	}
}

// Health returns the broker's health monitor, so the owning binary can feed
// it periodic process-resource samples (see internal/health.SampleSelf).
func (b *Broker) Health() *health.Monitor {
	return b.health
}

// Handler returns an http.Handler exposing /ws, /health, and /stats.
func (b *Broker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWebSocket)
	mux.HandleFunc("/health", b.handleHealth)
	mux.HandleFunc("/stats", b.handleStats)
	return mux
}

func (b *Broker) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b.health.Summary())
}

func (b *Broker) handleStats(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	peerCount := len(b.peers)
	pending := 0
	for _, q := range b.pendingConnections {
		pending += len(q)
	}
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Peers              int `json:"peers"`
		PendingConnections int `json:"pending_connections"`
	}{Peers: peerCount, PendingConnections: pending})
}

func (b *Broker) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed", "error", err)
		return
	}
	b.serve(conn, r.RemoteAddr)
}

// serve drives one WebSocket connection until it closes. registered stays
// false until a Register message arrives.
func (b *Broker) serve(conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	peer := &peerConnection{outbox: make(chan protocol.SignalingMessage, outboxCapacity), remoteAddr: remoteAddr}
	var registered bool

	done := make(chan struct{})
	go b.forward(conn, peer, done)
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		msg, ok := decode(msgType, data)
		if !ok {
			log.Warn("dropping malformed signaling message", "remote", remoteAddr)
			continue
		}

		b.dispatch(peer, &registered, msg)
	}

	if registered {
		b.mu.Lock()
		if b.peers[peer.peerID] == peer {
			delete(b.peers, peer.peerID)
		}
		b.mu.Unlock()
		log.Info("peer disconnected", "peer_id", peer.peerID)
	}
	peer.close()
}

func decode(msgType int, data []byte) (protocol.SignalingMessage, bool) {
	switch msgType {
	case websocket.TextMessage:
		var m protocol.SignalingMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return protocol.SignalingMessage{}, false
		}
		return m, true
	case websocket.BinaryMessage:
		m, err := protocol.DecodeSignalingMessage(data)
		if err != nil {
			return protocol.SignalingMessage{}, false
		}
		return m, true
	default:
		return protocol.SignalingMessage{}, false
	}
}

// forward drains peer's outbox to the WebSocket connection as JSON text
// frames, and sends periodic pings. It exits when the socket write fails
// or the outbox closes; a closed outbox (e.g. superseded by a second
// registration) also closes the socket.
func (b *Broker) forward(conn *websocket.Conn, peer *peerConnection, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-peer.outbox:
			if !ok {
				conn.Close()
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Error("failed to serialize signaling message", "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch applies the broker's per-message-kind routing rules (§4.5).
// registered is the connection's own "have I seen a Register yet" flag;
// most message kinds are ignored before registration.
func (b *Broker) dispatch(peer *peerConnection, registered *bool, msg protocol.SignalingMessage) {
	switch msg.Kind {
	case protocol.SigRegister:
		b.handleRegister(peer, registered, msg.PeerID)

	case protocol.SigConnect:
		if !*registered {
			return
		}
		b.handleConnect(peer, msg.TargetPeerID)

	case protocol.SigAccept:
		if !*registered {
			return
		}
		b.handleAccept(peer, msg.FromPeerID)

	case protocol.SigReject:
		if !*registered {
			return
		}
		b.handleReject(peer, msg.FromPeerID, msg.Reason)

	case protocol.SigIceCandidate:
		if !*registered {
			return
		}
		b.handleIceCandidate(peer, msg.TargetPeerID, msg.Candidate)

	case protocol.SigPing:
		send(peer, protocol.SignalingMessage{Kind: protocol.SigPong})

	default:
		log.Debug("unhandled signaling message kind", "kind", msg.Kind)
	}
}

func (b *Broker) handleRegister(peer *peerConnection, registered *bool, id protocol.PeerId) {
	b.mu.Lock()
	if prior, ok := b.peers[id]; ok {
		// A second registration supersedes the first (§4.5 invariant:
		// at most one active registration per PeerId).
		prior.close()
	}
	peer.peerID = id
	b.peers[id] = peer
	queued := b.pendingConnections[id]
	delete(b.pendingConnections, id)
	b.mu.Unlock()

	*registered = true
	log.Info("peer registered", "peer_id", id)

	send(peer, protocol.SignalingMessage{Kind: protocol.SigRegistered, PeerID: id})
	for _, from := range queued {
		send(peer, protocol.SignalingMessage{Kind: protocol.SigIncomingConnection, FromPeerID: from})
	}
}

func (b *Broker) handleConnect(peer *peerConnection, target protocol.PeerId) {
	b.mu.Lock()
	targetPeer, online := b.peers[target]
	b.mu.Unlock()

	if online {
		send(targetPeer, protocol.SignalingMessage{Kind: protocol.SigIncomingConnection, FromPeerID: peer.peerID})
		return
	}

	b.mu.Lock()
	b.pendingConnections[target] = append(b.pendingConnections[target], peer.peerID)
	b.mu.Unlock()

	send(peer, protocol.SignalingMessage{Kind: protocol.SigError, Message: "Peer is offline, request queued"})
}

func (b *Broker) handleAccept(peer *peerConnection, from protocol.PeerId) {
	b.mu.Lock()
	requester, online := b.peers[from]
	b.mu.Unlock()

	if online {
		send(requester, protocol.SignalingMessage{Kind: protocol.SigConnected, PeerID: peer.peerID})
	}
	send(peer, protocol.SignalingMessage{Kind: protocol.SigConnected, PeerID: from})
}

func (b *Broker) handleReject(peer *peerConnection, from protocol.PeerId, reason string) {
	b.mu.Lock()
	requester, online := b.peers[from]
	b.mu.Unlock()

	if online {
		send(requester, protocol.SignalingMessage{Kind: protocol.SigError, Message: "Connection rejected: " + reason})
	}
}

func (b *Broker) handleIceCandidate(peer *peerConnection, target protocol.PeerId, candidate protocol.IceCandidate) {
	b.mu.Lock()
	targetPeer, online := b.peers[target]
	b.mu.Unlock()

	if !online {
		return
	}
	// The remote endpoint as seen by target is the sender, not whoever
	// target originally addressed.
	send(targetPeer, protocol.SignalingMessage{
		Kind:         protocol.SigIceCandidate,
		TargetPeerID: peer.peerID,
		Candidate:    candidate,
	})
}

// send enqueues msg on peer's outbox. A full or closed outbox drops the
// message; the broker favors availability over guaranteed delivery, same
// as the rest of this system's media path.
func send(peer *peerConnection, msg protocol.SignalingMessage) {
	defer func() { recover() }() // outbox may have been closed concurrently
	select {
	case peer.outbox <- msg:
	default:
		log.Warn("peer outbox full, dropping message", "peer_id", peer.peerID, "kind", msg.Kind)
	}
}
