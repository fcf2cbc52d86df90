package transport

import (
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go/logging"
)

// Stats is a snapshot of one connection's transport-level metrics (§4.2).
// quic-go's public Connection interface does not expose its congestion
// controller's internals directly, so these are accumulated from a
// logging.ConnectionTracer instead -- the same extension point qlog and
// quic-go's own quictrace tooling use.
type Stats struct {
	RTT              time.Duration
	CongestionWindow uint64
	BytesSent        uint64
	BytesReceived    uint64
	PacketsSent      uint64
	PacketsLost      uint64
}

// connStats accumulates counters fed by a connectionTracer. Safe for
// concurrent use: tracer callbacks run on quic-go's internal goroutines
// while Stats() is read from whatever goroutine wants a snapshot.
type connStats struct {
	rtt              atomic.Int64
	congestionWindow atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	packetsSent      atomic.Uint64
	packetsLost      atomic.Uint64
}

func (s *connStats) snapshot() Stats {
	return Stats{
		RTT:              time.Duration(s.rtt.Load()),
		CongestionWindow: s.congestionWindow.Load(),
		BytesSent:        s.bytesSent.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		PacketsSent:      s.packetsSent.Load(),
		PacketsLost:      s.packetsLost.Load(),
	}
}

// tracer builds a ConnectionTracer that feeds s from quic-go's packet and
// congestion-metrics callbacks.
func (s *connStats) tracer() *logging.ConnectionTracer {
	return &logging.ConnectionTracer{
		SentLongHeaderPacket: func(_ *logging.ExtendedHeader, size logging.ByteCount, _ logging.ECN, _ *logging.AckFrame, _ []logging.Frame) {
			s.packetsSent.Add(1)
			s.bytesSent.Add(uint64(size))
		},
		SentShortHeaderPacket: func(_ *logging.ShortHeader, size logging.ByteCount, _ logging.ECN, _ *logging.AckFrame, _ []logging.Frame) {
			s.packetsSent.Add(1)
			s.bytesSent.Add(uint64(size))
		},
		ReceivedLongHeaderPacket: func(_ *logging.ExtendedHeader, size logging.ByteCount, _ logging.ECN, _ []logging.Frame) {
			s.bytesReceived.Add(uint64(size))
		},
		ReceivedShortHeaderPacket: func(_ *logging.ShortHeader, size logging.ByteCount, _ logging.ECN, _ []logging.Frame) {
			s.bytesReceived.Add(uint64(size))
		},
		LostPacket: func(_ logging.EncryptionLevel, _ logging.PacketNumber, _ logging.PacketLossReason) {
			s.packetsLost.Add(1)
		},
		UpdatedMetrics: func(rttStats *logging.RTTStats, cwnd, _ logging.ByteCount, _ int) {
			s.rtt.Store(int64(rttStats.SmoothedRTT()))
			s.congestionWindow.Store(uint64(cwnd))
		},
	}
}
