package protocol

import (
	"bytes"
	"testing"
)

func TestVideoPacketRoundTrip(t *testing.T) {
	p := VideoPacket{
		Header: VideoPacketHeader{
			FrameID:        42,
			FragmentIndex:  1,
			TotalFragments: 3,
			TimestampUs:    1_700_000_000_000,
			FrameType:      FrameDelta,
			Codec:          CodecH264,
			Width:          1920,
			Height:         1080,
			HasDirtyRect:   true,
			DirtyRect:      DirtyRect{X: 10, Y: 20, Width: 100, Height: 50},
		},
		Payload: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	data := EncodeVideoPacket(p)
	decoded, err := DecodeVideoPacket(data)
	if err != nil {
		t.Fatalf("DecodeVideoPacket: %v", err)
	}
	if decoded.Header != p.Header {
		t.Fatalf("header mismatch: got %+v, want %+v", decoded.Header, p.Header)
	}
	if !bytes.Equal(decoded.Payload, p.Payload) {
		t.Fatalf("payload mismatch: got %v, want %v", decoded.Payload, p.Payload)
	}
}

func TestVideoPacketWithoutDirtyRect(t *testing.T) {
	p := VideoPacket{
		Header: VideoPacketHeader{
			FrameID:        1,
			TotalFragments: 1,
			FrameType:      FrameKey,
			Codec:          CodecAV1,
			Width:          640,
			Height:         480,
		},
		Payload: []byte{1, 2, 3},
	}
	data := EncodeVideoPacket(p)
	decoded, err := DecodeVideoPacket(data)
	if err != nil {
		t.Fatalf("DecodeVideoPacket: %v", err)
	}
	if decoded.Header.HasDirtyRect {
		t.Fatal("expected HasDirtyRect false")
	}
}

func TestHeaderSizeMatchesEncoding(t *testing.T) {
	h := VideoPacketHeader{FrameID: 1, TotalFragments: 1, Codec: CodecH264}
	var buf bytes.Buffer
	EncodeVideoPacketHeader(&buf, h)
	if got, want := HeaderSize(h), buf.Len(); got != want {
		t.Fatalf("HeaderSize()=%d, encoded length=%d", got, want)
	}
}

func TestFragmentationFitsDatagram(t *testing.T) {
	h := VideoPacketHeader{
		FrameID:        1,
		TotalFragments: 1,
		Codec:          CodecH264,
		HasDirtyRect:   true,
	}
	maxPayload := MaxDatagramSize - HeaderSize(h)
	p := VideoPacket{Header: h, Payload: make([]byte, maxPayload)}
	data := EncodeVideoPacket(p)
	if len(data) != MaxDatagramSize {
		t.Fatalf("encoded length=%d, want %d", len(data), MaxDatagramSize)
	}
}

func TestInputPacketRoundTripMouseMove(t *testing.T) {
	p := InputPacket{
		Sequence:    7,
		TimestampUs: 123456,
		Event: InputEvent{
			Kind:       EventMouseMove,
			X:          0.42,
			Y:          0.73,
			Normalized: true,
		},
	}
	decoded, err := DecodeInputPacket(EncodeInputPacket(p))
	if err != nil {
		t.Fatalf("DecodeInputPacket: %v", err)
	}
	if decoded != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, p)
	}
}

func TestInputPacketRoundTripKey(t *testing.T) {
	p := InputPacket{
		Sequence:    1,
		TimestampUs: 999,
		Event: InputEvent{
			Kind:    EventKey,
			KeyCode: KeyA,
			State:   KeyPressed,
			Modifiers: KeyModifiers{
				Shift: true,
				Ctrl:  true,
			},
		},
	}
	decoded, err := DecodeInputPacket(EncodeInputPacket(p))
	if err != nil {
		t.Fatalf("DecodeInputPacket: %v", err)
	}
	if decoded != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, p)
	}
}

func TestInputPacketRoundTripTextInput(t *testing.T) {
	p := InputPacket{
		Sequence:    2,
		TimestampUs: 1000,
		Event: InputEvent{
			Kind: EventTextInput,
			Text: "hello, world",
		},
	}
	decoded, err := DecodeInputPacket(EncodeInputPacket(p))
	if err != nil {
		t.Fatalf("DecodeInputPacket: %v", err)
	}
	if decoded != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, p)
	}
}

func TestDecodeInputPacketRejectsTruncated(t *testing.T) {
	p := InputPacket{Event: InputEvent{Kind: EventMouseMove, X: 1, Y: 2}}
	data := EncodeInputPacket(p)
	if _, err := DecodeInputPacket(data[:len(data)-1]); err == nil {
		t.Fatal("expected error for truncated packet")
	}
}

func TestSignalingMessageBinaryRoundTripIceCandidate(t *testing.T) {
	m := SignalingMessage{
		Kind:         SigIceCandidate,
		TargetPeerID: NewPeerId(),
		Candidate: IceCandidate{
			CandidateType: CandidateServerReflexive,
			Address:       "203.0.113.5",
			Port:          51820,
			Priority:      1234,
		},
	}
	data, err := EncodeSignalingMessage(m)
	if err != nil {
		t.Fatalf("EncodeSignalingMessage: %v", err)
	}
	decoded, err := DecodeSignalingMessage(data)
	if err != nil {
		t.Fatalf("DecodeSignalingMessage: %v", err)
	}
	if decoded != m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, m)
	}
}

func TestSignalingMessageBinaryRoundTripReject(t *testing.T) {
	m := SignalingMessage{Kind: SigReject, FromPeerID: NewPeerId(), Reason: "busy"}
	data, err := EncodeSignalingMessage(m)
	if err != nil {
		t.Fatalf("EncodeSignalingMessage: %v", err)
	}
	decoded, err := DecodeSignalingMessage(data)
	if err != nil {
		t.Fatalf("DecodeSignalingMessage: %v", err)
	}
	if decoded != m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, m)
	}
}

func TestSessionMessageBinaryRoundTripConfigure(t *testing.T) {
	m := SessionMessage{
		Kind:   MsgConfigure,
		Config: DefaultSessionConfig(),
	}
	decoded, err := DecodeSessionMessage(EncodeSessionMessage(m))
	if err != nil {
		t.Fatalf("DecodeSessionMessage: %v", err)
	}
	if decoded != m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, m)
	}
}

func TestSessionMessageBinaryRoundTripHello(t *testing.T) {
	m := SessionMessage{
		Kind:            MsgHello,
		PeerID:          NewPeerId(),
		ProtocolVersion: 1,
		Role:            RoleHost,
		PublicKey:       [32]byte{1, 2, 3},
	}
	decoded, err := DecodeSessionMessage(EncodeSessionMessage(m))
	if err != nil {
		t.Fatalf("DecodeSessionMessage: %v", err)
	}
	if decoded != m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, m)
	}
}
