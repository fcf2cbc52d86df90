package hostpipeline

import (
	"testing"

	"github.com/parevo/entangle/internal/capture"
	"github.com/parevo/entangle/internal/encoder"
	"github.com/parevo/entangle/internal/protocol"
)

// sendRecorder implements the minimal interface sendFrame needs, recording
// every datagram it would have sent on the wire.
type sendRecorder struct {
	datagrams [][]byte
}

func (r *sendRecorder) SendDatagram(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	r.datagrams = append(r.datagrams, cp)
	return nil
}

func TestSendFrameFragmentsOversizedPayload(t *testing.T) {
	p := &Pipeline{}
	rec := &sendRecorder{}

	payloadSize := protocol.MaxDatagramSize * 3
	frame := encoder.EncodedFrame{
		Data:      make([]byte, payloadSize),
		Width:     1920,
		Height:    1080,
		FrameType: encoder.FrameTypeKey,
		Sequence:  7,
	}

	n, bytesSent, err := p.sendFrame(rec, frame)
	if err != nil {
		t.Fatalf("sendFrame: %v", err)
	}
	if n != 1 {
		t.Fatalf("frame count = %d, want 1", n)
	}
	if len(rec.datagrams) < 2 {
		t.Fatalf("expected multiple fragments for oversized frame, got %d", len(rec.datagrams))
	}
	for _, d := range rec.datagrams {
		if len(d) > protocol.MaxDatagramSize {
			t.Fatalf("fragment size %d exceeds MaxDatagramSize %d", len(d), protocol.MaxDatagramSize)
		}
	}

	var reassembled []byte
	for i, d := range rec.datagrams {
		pkt, err := protocol.DecodeVideoPacket(d)
		if err != nil {
			t.Fatalf("DecodeVideoPacket fragment %d: %v", i, err)
		}
		if pkt.Header.FrameID != 7 {
			t.Fatalf("fragment %d FrameID = %d, want 7", i, pkt.Header.FrameID)
		}
		if int(pkt.Header.TotalFragments) != len(rec.datagrams) {
			t.Fatalf("fragment %d TotalFragments = %d, want %d", i, pkt.Header.TotalFragments, len(rec.datagrams))
		}
		if int(pkt.Header.FragmentIndex) != i {
			t.Fatalf("fragment %d FragmentIndex = %d, want %d", i, pkt.Header.FragmentIndex, i)
		}
		reassembled = append(reassembled, pkt.Payload...)
	}
	if len(reassembled) != payloadSize {
		t.Fatalf("reassembled size = %d, want %d", len(reassembled), payloadSize)
	}
	if bytesSent == 0 {
		t.Fatalf("bytesSent = 0, want > 0")
	}
}

func TestSendFrameSingleFragmentForSmallPayload(t *testing.T) {
	p := &Pipeline{}
	rec := &sendRecorder{}

	frame := encoder.EncodedFrame{
		Data:      []byte{0x00, 0x00, 0x00, 0x01, 0xAB},
		Width:     640,
		Height:    480,
		FrameType: encoder.FrameTypeDelta,
		Sequence:  3,
	}

	n, _, err := p.sendFrame(rec, frame)
	if err != nil {
		t.Fatalf("sendFrame: %v", err)
	}
	if n != 1 {
		t.Fatalf("frame count = %d, want 1", n)
	}
	if len(rec.datagrams) != 1 {
		t.Fatalf("fragment count = %d, want 1", len(rec.datagrams))
	}
	pkt, err := protocol.DecodeVideoPacket(rec.datagrams[0])
	if err != nil {
		t.Fatalf("DecodeVideoPacket: %v", err)
	}
	if pkt.Header.TotalFragments != 1 {
		t.Fatalf("TotalFragments = %d, want 1", pkt.Header.TotalFragments)
	}
	if len(pkt.Payload) != len(frame.Data) {
		t.Fatalf("payload length = %d, want %d", len(pkt.Payload), len(frame.Data))
	}
}

func TestStubEncodedFrameFitsFramesChannel(t *testing.T) {
	capturer := capture.NewStub(64, 48)
	enc := encoder.NewStub()
	p := New(nil, capturer, enc, nil, nil)

	if err := capturer.Start(capture.CaptureConfig{TargetFPS: 30, DirtyRects: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := enc.Init(encoder.DefaultEncoderConfig(64, 48)); err != nil {
		t.Fatalf("Init: %v", err)
	}

	frame, err := capturer.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	encoded, err := enc.Encode(&frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	select {
	case p.frames <- encoded:
	default:
		t.Fatalf("frames channel unexpectedly full")
	}
	if len(p.frames) != 1 {
		t.Fatalf("frames channel length = %d, want 1", len(p.frames))
	}
}
