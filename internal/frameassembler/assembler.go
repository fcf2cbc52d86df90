// Package frameassembler reassembles fragmented video frames on the
// Viewer side and evicts partial frames that never complete.
package frameassembler

import (
	"sort"
	"time"

	"github.com/parevo/entangle/internal/protocol"
)

const (
	defaultMaxAge    = 2 * time.Second
	defaultMaxFrames = 128
)

// assembly is one frame's in-progress reassembly state.
type assembly struct {
	header     protocol.VideoPacketHeader
	fragments  [][]byte
	received   int
	lastUpdate time.Time
}

// Assembler reassembles VideoPacket fragments keyed by FrameID. It is owned
// exclusively by the Viewer receive worker and is not safe for concurrent
// use from multiple goroutines.
type Assembler struct {
	maxAge    time.Duration
	maxFrames int

	frames map[uint64]*assembly
}

// New constructs an Assembler with the given eviction bounds. A zero
// maxAge or maxFrames falls back to the defaults (2s / 128 frames).
func New(maxAge time.Duration, maxFrames int) *Assembler {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	if maxFrames <= 0 {
		maxFrames = defaultMaxFrames
	}
	return &Assembler{
		maxAge:    maxAge,
		maxFrames: maxFrames,
		frames:    make(map[uint64]*assembly),
	}
}

// Push admits one fragment. It returns the assembled packet and true once
// every fragment of its frame has arrived; otherwise it returns the zero
// value and false. Every push first evicts stale and excess assemblies; a
// packet whose TotalFragments is 0 or 1 is then returned unchanged without
// entering the assembler.
func (a *Assembler) Push(pkt protocol.VideoPacket, now time.Time) (protocol.VideoPacket, bool) {
	a.evictStale(now)
	a.evictOverCapacity()

	if pkt.Header.TotalFragments <= 1 {
		return pkt, true
	}

	frameID := pkt.Header.FrameID
	as, ok := a.frames[frameID]
	if ok && as.header.TotalFragments != pkt.Header.TotalFragments {
		// Late-arriving fragments from a resized re-transmit must not
		// corrupt in-progress state: start over.
		as = nil
		ok = false
	}
	if !ok {
		as = &assembly{
			header:    pkt.Header,
			fragments: make([][]byte, pkt.Header.TotalFragments),
		}
		a.frames[frameID] = as
	}
	as.lastUpdate = now

	idx := pkt.Header.FragmentIndex
	if idx < pkt.Header.TotalFragments && as.fragments[idx] == nil {
		as.fragments[idx] = pkt.Payload
		as.received++
	}

	if as.received != int(as.header.TotalFragments) {
		return protocol.VideoPacket{}, false
	}

	delete(a.frames, frameID)

	total := 0
	for _, f := range as.fragments {
		total += len(f)
	}
	payload := make([]byte, 0, total)
	for _, f := range as.fragments {
		payload = append(payload, f...)
	}

	return protocol.VideoPacket{Header: as.header, Payload: payload}, true
}

// evictStale drops assemblies whose last update is older than maxAge.
func (a *Assembler) evictStale(now time.Time) {
	for id, as := range a.frames {
		if now.Sub(as.lastUpdate) > a.maxAge {
			delete(a.frames, id)
		}
	}
}

// evictOverCapacity drops the oldest assemblies (by lastUpdate) until the
// frame count is within maxFrames.
func (a *Assembler) evictOverCapacity() {
	if len(a.frames) <= a.maxFrames {
		return
	}

	type entry struct {
		id uint64
		at time.Time
	}
	entries := make([]entry, 0, len(a.frames))
	for id, as := range a.frames {
		entries = append(entries, entry{id: id, at: as.lastUpdate})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	excess := len(a.frames) - a.maxFrames
	for i := 0; i < excess; i++ {
		delete(a.frames, entries[i].id)
	}
}

// Len reports the number of in-progress assemblies, for tests and metrics.
func (a *Assembler) Len() int {
	return len(a.frames)
}
