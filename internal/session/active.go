package session

import (
	"github.com/parevo/entangle/internal/protocol"
	"github.com/parevo/entangle/internal/transport"
)

// ActiveSession is returned by Connect once the transport handshake has
// completed. It shares its Session and Transport with whatever workers
// internal/hostpipeline or internal/viewerpipeline spawn against it; those
// packages own the capture/encode/send and receive/input loops, ActiveSession
// only hands out the shared handles and a way to report state back.
type ActiveSession struct {
	session *Session
}

// Session returns the underlying Session, for state/stats queries and
// ResolvePendingConnection (Host only, though a Host's pending slot is only
// ever populated before Connect returns, so this is mostly useful post-hoc
// for logging).
func (a *ActiveSession) Session() *Session { return a.session }

// Transport returns the shared transport handle pipelines send and receive
// datagrams through.
func (a *ActiveSession) Transport() *transport.Transport { return a.session.transport }

// Role reports which side of the session this process is playing.
func (a *ActiveSession) Role() protocol.SessionRole { return a.session.role }

// Disconnect tears down the session and its transport. Idempotent.
func (a *ActiveSession) Disconnect() { a.session.Disconnect() }
