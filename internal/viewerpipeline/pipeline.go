// Package viewerpipeline runs the Viewer side of an active session: an
// input worker that serializes and transmits local input events, and a
// receive worker that reassembles incoming video fragments into frames.
package viewerpipeline

import (
	"context"
	"time"

	"github.com/parevo/entangle/internal/frameassembler"
	"github.com/parevo/entangle/internal/health"
	"github.com/parevo/entangle/internal/logging"
	"github.com/parevo/entangle/internal/protocol"
	"github.com/parevo/entangle/internal/session"
)

var log = logging.L("viewer-pipeline")

const (
	inputQueueCapacity = 100
	inputDequeueWait   = 100 * time.Millisecond
)

// Pipeline owns the two Viewer-side workers for one ActiveSession.
type Pipeline struct {
	active    *session.ActiveSession
	assembler *frameassembler.Assembler
	health    *health.Monitor

	input chan protocol.InputPacket
}

// New constructs a Pipeline. Queue is the bounded MPSC input queue the
// application's UI layer feeds; InputChan exposes it for that purpose.
// monitor may be nil, in which case component health is not reported.
func New(active *session.ActiveSession, monitor *health.Monitor) *Pipeline {
	return &Pipeline{
		active:    active,
		assembler: frameassembler.New(0, 0),
		health:    monitor,
		input:     make(chan protocol.InputPacket, inputQueueCapacity),
	}
}

// reportHealth is a nil-safe wrapper around health.Monitor.Update.
func (p *Pipeline) reportHealth(component string, status health.Status, message string) {
	if p.health != nil {
		p.health.Update(component, status, message)
	}
}

// InputChan returns the channel the application enqueues local input
// events onto. Sends block if the queue is full; callers that cannot
// tolerate blocking should use a non-blocking select themselves.
func (p *Pipeline) InputChan() chan<- protocol.InputPacket {
	return p.input
}

// Run starts both workers and blocks until ctx is canceled or the
// session's running flag clears.
func (p *Pipeline) Run(ctx context.Context, onEvent func(session.Event)) error {
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		p.inputWorker(ctx)
	}()

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		p.receiveWorker(ctx, onEvent)
	}()

	<-inputDone
	<-recvDone
	return nil
}

// inputWorker dequeues local input events and transmits each as a
// datagram. It polls with a short timeout rather than blocking forever on
// the channel so it notices the session ending even with an empty queue.
func (p *Pipeline) inputWorker(ctx context.Context) {
	sess := p.active.Session()
	transport := p.active.Transport()

	for sess.IsRunning() {
		select {
		case pkt, ok := <-p.input:
			if !ok {
				return
			}
			if !transport.IsConnected() {
				p.reportHealth("transport", health.Degraded, "not connected")
				continue
			}
			data := protocol.EncodeInputPacket(pkt)
			if err := transport.SendDatagram(data); err != nil {
				log.Warn("send input datagram failed", "error", err)
				p.reportHealth("transport", health.Degraded, err.Error())
			}

		case <-time.After(inputDequeueWait):
			// no input queued; loop back around to re-check sess.IsRunning.

		case <-ctx.Done():
			return
		}
	}
}

// receiveWorker awaits incoming video datagrams, reassembles fragmented
// frames, and emits a VideoFrame event for each completed frame.
// Malformed datagrams are logged and dropped.
func (p *Pipeline) receiveWorker(ctx context.Context, onEvent func(session.Event)) {
	sess := p.active.Session()
	transport := p.active.Transport()

	for sess.IsRunning() {
		data, err := transport.RecvDatagram(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("recv datagram failed, stopping receive worker", "error", err)
			p.reportHealth("transport", health.Degraded, err.Error())
			return
		}
		p.reportHealth("transport", health.Healthy, "")

		pkt, err := protocol.DecodeVideoPacket(data)
		if err != nil {
			log.Warn("dropping malformed video packet", "error", err)
			continue
		}

		complete, ok := p.assembler.Push(pkt, time.Now())
		if !ok {
			continue
		}

		if onEvent != nil {
			onEvent(session.Event{
				Kind:        session.EventVideoFrame,
				FrameData:   complete.Payload,
				IsKeyframe:  complete.Header.FrameType == protocol.FrameKey,
				TimestampUs: complete.Header.TimestampUs,
				Width:       complete.Header.Width,
				Height:      complete.Header.Height,
				FrameID:     complete.Header.FrameID,
			})
		}
	}
}
