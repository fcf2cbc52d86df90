// Package transport implements the unreliable-datagram, ordered-stream
// transport Host and Viewer peers use once a direct path has been
// established: a QUIC connection carrying best-effort video datagrams
// alongside reliable control streams, with per-connection RTT sampling
// handed to the rate controller.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"
)

// MaxDatagramSize mirrors protocol.MaxDatagramSize; duplicated here so this
// package has no import-time dependency on internal/protocol.
const MaxDatagramSize = 1200

const (
	idleTimeout     = 30 * time.Second
	keepAlivePeriod = 5 * time.Second
)

// Transport wraps a single QUIC connection, in either client or server
// role, exposing the datagram and stream operations the session and
// pipeline layers need.
type Transport struct {
	listener *quic.Listener
	stats    *connStats

	mu   sync.RWMutex
	conn *quic.Conn
}

func quicConfig(stats *connStats) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
		EnableDatagrams: true,
		Tracer: func(_ context.Context, _ logging.Perspective, _ logging.ConnectionID) *logging.ConnectionTracer {
			return stats.tracer()
		},
	}
}

// NewServer binds a QUIC listener on addr with a freshly generated
// self-signed certificate. Call Accept to wait for the Viewer's connection.
func NewServer(addr string) (*Transport, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	stats := &connStats{}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig(stats))
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Transport{listener: ln, stats: stats}, nil
}

// NewClient constructs an unconnected client-mode transport. Call Connect
// to dial a Host that is listening at addr.
func NewClient() *Transport {
	return &Transport{stats: &connStats{}}
}

// Accept waits for and accepts a single incoming connection. It is only
// valid on a server-mode Transport (one created by NewServer).
func (t *Transport) Accept(ctx context.Context) error {
	if t.listener == nil {
		return fmt.Errorf("transport: Accept called on client-mode transport")
	}
	t.mu.RLock()
	already := t.conn != nil
	t.mu.RUnlock()
	if already {
		return ErrAlreadyConnected
	}

	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return fmt.Errorf("transport: accept: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Connect dials addr as a client. serverName is sent as the TLS SNI / ALPN
// peer identity but is not cryptographically verified (opportunistic
// encryption; see tls.go) -- an empty serverName falls back to the
// certificate's own SAN.
func (t *Transport) Connect(ctx context.Context, addr string, serverName string) error {
	t.mu.RLock()
	already := t.conn != nil
	t.mu.RUnlock()
	if already {
		return ErrAlreadyConnected
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve %s: %w", addr, err)
	}

	conn, err := quic.DialAddr(ctx, udpAddr.String(), clientTLSConfig(serverName), quicConfig(t.stats))
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// ListenAddr returns the address a server-mode Transport actually bound to
// (useful when the configured address used an ephemeral port). Returns nil
// in client mode.
func (t *Transport) ListenAddr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// IsConnected reports whether a QUIC connection has been established.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

// RemoteAddr returns the peer's address, or nil if not connected.
func (t *Transport) RemoteAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

func (t *Transport) connection() (*quic.Conn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}

// SendDatagram transmits data unreliably, fire-and-forget. The caller is
// responsible for keeping data within MaxDatagramSize.
func (t *Transport) SendDatagram(data []byte) error {
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrDatagramTooLarge, len(data), MaxDatagramSize)
	}
	conn, err := t.connection()
	if err != nil {
		return err
	}
	if err := conn.SendDatagram(data); err != nil {
		return fmt.Errorf("transport: send datagram: %w", err)
	}
	return nil
}

// RecvDatagram blocks until a datagram arrives, ctx is canceled, or the
// connection closes.
func (t *Transport) RecvDatagram(ctx context.Context) ([]byte, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}
	data, err := conn.ReceiveDatagram(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: receive datagram: %w", err)
	}
	return data, nil
}

// OpenBiStream opens a new reliable bidirectional stream, used for control
// messages and the opportunistic crypto handshake.
func (t *Transport) OpenBiStream(ctx context.Context) (*quic.Stream, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: open stream: %w", err)
	}
	return stream, nil
}

// AcceptBiStream blocks until the peer opens a bidirectional stream.
func (t *Transport) AcceptBiStream(ctx context.Context) (*quic.Stream, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept stream: %w", err)
	}
	return stream, nil
}

// OpenUniStream opens a new reliable unidirectional (send-only) stream,
// used for control/clipboard/file traffic in the future; not part of the
// hot path.
func (t *Transport) OpenUniStream(ctx context.Context) (*quic.SendStream, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: open uni stream: %w", err)
	}
	return stream, nil
}

// Close tears down the connection and, in server mode, the listener.
func (t *Transport) Close(reason string) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.CloseWithError(0, reason)
	}
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// Stats returns a snapshot of this connection's transport-level metrics
// (§4.2). See stats.go: RTT and congestion window come from quic-go's own
// congestion controller via a connection tracer, since the public
// Connection API doesn't expose them directly.
func (t *Transport) Stats() Stats {
	return t.stats.snapshot()
}
