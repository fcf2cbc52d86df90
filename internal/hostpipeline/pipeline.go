// Package hostpipeline runs the Host side of an active session: a
// dedicated capture/encode loop feeding a bounded channel, a send worker
// that fragments and transmits encoded frames while also dispatching
// inbound input datagrams, and a stats worker.
package hostpipeline

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/parevo/entangle/internal/capture"
	"github.com/parevo/entangle/internal/encoder"
	"github.com/parevo/entangle/internal/health"
	"github.com/parevo/entangle/internal/inputinjector"
	"github.com/parevo/entangle/internal/logging"
	"github.com/parevo/entangle/internal/protocol"
	"github.com/parevo/entangle/internal/ratecontrol"
	"github.com/parevo/entangle/internal/session"
)

var log = logging.L("host-pipeline")

const (
	targetFPS           = 30
	frameDuration       = time.Second / targetFPS
	encodedFrameBacklog = 10
	minDirtyFraction    = 0.01
	statsInterval       = time.Second
	rateControlInterval = 500 * time.Millisecond
)

// Pipeline owns the four Host-side workers for one ActiveSession.
type Pipeline struct {
	active    *session.ActiveSession
	capturer  capture.ScreenCapturer
	enc       encoder.VideoEncoder
	processor *inputinjector.Processor
	health    *health.Monitor
	rc        *ratecontrol.Controller

	frames chan encoder.EncodedFrame

	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
}

// New constructs a Pipeline. capturer and enc are not yet started/Init'd;
// Run performs that as part of the capture/encode worker's setup, mirroring
// the spec's description of a single dedicated-thread initialization step.
// monitor may be nil, in which case component health is not reported.
func New(active *session.ActiveSession, capturer capture.ScreenCapturer, enc encoder.VideoEncoder, processor *inputinjector.Processor, monitor *health.Monitor) *Pipeline {
	return &Pipeline{
		active:    active,
		capturer:  capturer,
		enc:       enc,
		processor: processor,
		health:    monitor,
		rc:        ratecontrol.NewController(ratecontrol.DefaultConfig()),
		frames:    make(chan encoder.EncodedFrame, encodedFrameBacklog),
	}
}

// reportHealth is a nil-safe wrapper around health.Monitor.Update.
func (p *Pipeline) reportHealth(component string, status health.Status, message string) {
	if p.health != nil {
		p.health.Update(component, status, message)
	}
}

// Run starts all four workers and blocks until ctx is canceled or the
// session's running flag clears. The capture/encode worker runs on a
// dedicated goroutine locked to an OS thread, since capture and encode are
// CPU-bound and perform blocking system calls on real platform back-ends.
func (p *Pipeline) Run(ctx context.Context, onEvent func(session.Event)) error {
	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		p.captureEncodeWorker()
	}()

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		p.sendWorker(ctx)
	}()

	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		p.statsWorker(ctx, onEvent)
	}()

	rateControlDone := make(chan struct{})
	go func() {
		defer close(rateControlDone)
		p.rateControlWorker(ctx)
	}()

	<-captureDone
	<-sendDone
	<-statsDone
	<-rateControlDone
	return nil
}

// captureEncodeWorker is the dedicated-thread loop: capture one frame,
// encode it if enough changed, hand it to the send worker. It rate-limits
// itself to frameDuration between captures and exits when the session's
// running flag clears.
func (p *Pipeline) captureEncodeWorker() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	sess := p.active.Session()

	if err := p.capturer.Start(capture.CaptureConfig{
		TargetFPS:     targetFPS,
		DirtyRects:    true,
		CaptureCursor: true,
		CaptureAudio:  false,
	}); err != nil {
		log.Error("capture start failed", "error", err)
		p.reportHealth("capture", health.Unhealthy, err.Error())
		return
	}
	defer p.capturer.Stop()

	displays, err := p.capturer.Displays()
	if err != nil || len(displays) == 0 {
		log.Error("no displays available", "error", err)
		p.reportHealth("capture", health.Unhealthy, "no displays available")
		return
	}
	primary := displays[0]
	for _, d := range displays {
		if d.IsPrimary {
			primary = d
			break
		}
	}

	if err := p.enc.Init(encoder.DefaultEncoderConfig(primary.Width, primary.Height)); err != nil {
		log.Error("encoder init failed", "error", err)
		p.reportHealth("encode", health.Unhealthy, err.Error())
		return
	}
	p.reportHealth("capture", health.Healthy, "")
	p.reportHealth("encode", health.Healthy, "")

	var haveLast bool
	for sess.IsRunning() {
		loopStart := time.Now()

		frame, err := p.capturer.CaptureFrame()
		if err != nil {
			log.Warn("capture error", "error", err)
			p.reportHealth("capture", health.Degraded, err.Error())
			time.Sleep(frameDuration)
			continue
		}

		shouldEncode := !haveLast || len(frame.DirtyRects) > 0 || frame.DirtyFraction() > minDirtyFraction
		haveLast = true

		if shouldEncode {
			encoded, err := p.enc.Encode(&frame)
			if err != nil {
				log.Warn("encoding error, requesting keyframe", "error", err)
				p.reportHealth("encode", health.Degraded, err.Error())
				p.enc.ForceKeyframe()
			} else {
				// Wait for room on the channel; the frame is dropped only
				// once the session stops running.
				for sent := false; !sent && sess.IsRunning(); {
					select {
					case p.frames <- encoded:
						sent = true
					case <-time.After(frameDuration):
					}
				}
			}
		}

		elapsed := time.Since(loopStart)
		if elapsed < frameDuration {
			time.Sleep(frameDuration - elapsed)
		}
	}
}

// sendWorker multiplexes outbound encoded frames against inbound input
// datagrams. A send failure aborts only the current frame; the session
// stays Active.
func (p *Pipeline) sendWorker(ctx context.Context) {
	sess := p.active.Session()
	transport := p.active.Transport()

	recvDone := make(chan struct{})
	recvDatagrams := make(chan []byte, 100)
	go func() {
		defer close(recvDone)
		for sess.IsRunning() {
			data, err := transport.RecvDatagram(ctx)
			if err != nil {
				return
			}
			select {
			case recvDatagrams <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for sess.IsRunning() {
		select {
		case frame := <-p.frames:
			n, b, err := p.sendFrame(transport, frame)
			if err != nil {
				log.Warn("send frame failed, continuing", "error", err)
				continue
			}
			p.framesSent.Add(uint64(n))
			p.bytesSent.Add(b)

		case data := <-recvDatagrams:
			pkt, err := protocol.DecodeInputPacket(data)
			if err != nil {
				continue
			}
			if err := p.processor.ProcessPacket(pkt); err != nil {
				log.Warn("input processing failed", "error", err)
			}

		case <-ctx.Done():
			return
		}
	}

	<-recvDone
}

// sendFrame fragments one encoded frame into ≤MTU datagrams and transmits
// each. It returns the number of frames (always 0 or 1) and bytes sent.
func (p *Pipeline) sendFrame(t interface {
	SendDatagram([]byte) error
}, frame encoder.EncodedFrame) (int, uint64, error) {
	header := protocol.VideoPacketHeader{
		FrameID:        frame.Sequence,
		TotalFragments: 1,
		TimestampUs:    frame.PtsUs,
		FrameType:      protocol.FrameType(frame.FrameType),
		Codec:          protocol.CodecH264,
		Width:          uint32(frame.Width),
		Height:         uint32(frame.Height),
	}
	headerSize := protocol.HeaderSize(header)
	maxPayload := protocol.MaxDatagramSize - headerSize
	if maxPayload <= 0 {
		return 0, 0, &sendError{"header larger than MTU"}
	}

	total := (len(frame.Data) + maxPayload - 1) / maxPayload
	if total == 0 {
		total = 1
	}
	header.TotalFragments = uint16(total)

	var bytesSent uint64
	for i := 0; i < total; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(frame.Data) {
			end = len(frame.Data)
		}
		h := header
		h.FragmentIndex = uint16(i)
		pkt := protocol.VideoPacket{Header: h, Payload: frame.Data[start:end]}
		data := protocol.EncodeVideoPacket(pkt)
		if err := t.SendDatagram(data); err != nil {
			return 0, bytesSent, err
		}
		bytesSent += uint64(len(data))
	}
	return 1, bytesSent, nil
}

type sendError struct{ msg string }

func (e *sendError) Error() string { return "hostpipeline: " + e.msg }

// statsWorker emits a Stats event roughly every statsInterval.
func (p *Pipeline) statsWorker(ctx context.Context, onEvent func(session.Event)) {
	sess := p.active.Session()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	start := time.Now()

	for sess.IsRunning() {
		select {
		case <-ticker.C:
			elapsed := time.Since(start).Seconds()
			framesSent := p.framesSent.Load()
			bytesSent := p.bytesSent.Load()
			stats := session.Stats{
				FramesSent:  framesSent,
				BytesSent:   bytesSent,
				FPS:         float64(framesSent) / elapsed,
				BitrateKbps: uint32(float64(bytesSent) * 8 / 1000 / elapsed),
			}
			sess.SetStats(stats)
			if onEvent != nil {
				onEvent(session.Event{Kind: session.EventStats, StatsSnapshot: stats})
			}
		case <-ctx.Done():
			return
		}
	}
}

// rateControlWorker feeds the transport's observed RTT into the rate
// controller and applies its current set-points to the encoder, the way the
// original congestion controller drives its encoder from the transport's
// per-connection RTT samples.
func (p *Pipeline) rateControlWorker(ctx context.Context) {
	sess := p.active.Session()
	transport := p.active.Transport()
	ticker := time.NewTicker(rateControlInterval)
	defer ticker.Stop()

	for sess.IsRunning() {
		select {
		case <-ticker.C:
			p.rc.RecordRTT(transport.Stats().RTT)
			params := p.rc.Params()
			p.enc.SetBitrate(params.BitrateKbps)
			p.enc.SetFPS(int(params.FPS))
		case <-ctx.Done():
			return
		}
	}
}
