package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrMalformed is returned by the Decode* functions when a buffer is too
// short or carries an unrecognized tag.
var ErrMalformed = errors.New("protocol: malformed packet")

// --- VideoPacketHeader / VideoPacket -------------------------------------

const dirtyRectFlag = 1

// EncodeVideoPacketHeader writes h's fixed-width binary encoding to w.
func EncodeVideoPacketHeader(w *bytes.Buffer, h VideoPacketHeader) {
	writeU64(w, h.FrameID)
	writeU16(w, h.FragmentIndex)
	writeU16(w, h.TotalFragments)
	writeU64(w, h.TimestampUs)
	w.WriteByte(byte(h.FrameType))
	w.WriteByte(byte(h.Codec))
	writeU32(w, h.Width)
	writeU32(w, h.Height)
	if h.HasDirtyRect {
		w.WriteByte(dirtyRectFlag)
		writeU32(w, h.DirtyRect.X)
		writeU32(w, h.DirtyRect.Y)
		writeU32(w, h.DirtyRect.Width)
		writeU32(w, h.DirtyRect.Height)
	} else {
		w.WriteByte(0)
	}
}

// HeaderSize returns the exact serialized size of h. The Host pipeline
// computes this by serializing a header with an empty payload and
// subtracting from the MTU to derive max_payload (§4.1).
func HeaderSize(h VideoPacketHeader) int {
	var buf bytes.Buffer
	EncodeVideoPacketHeader(&buf, h)
	return buf.Len()
}

// DecodeVideoPacketHeader reads a VideoPacketHeader from r.
func DecodeVideoPacketHeader(r *bytes.Reader) (VideoPacketHeader, error) {
	var h VideoPacketHeader
	var err error
	if h.FrameID, err = readU64(r); err != nil {
		return h, err
	}
	if h.FragmentIndex, err = readU16(r); err != nil {
		return h, err
	}
	if h.TotalFragments, err = readU16(r); err != nil {
		return h, err
	}
	if h.TimestampUs, err = readU64(r); err != nil {
		return h, err
	}
	ft, err := r.ReadByte()
	if err != nil {
		return h, ErrMalformed
	}
	h.FrameType = FrameType(ft)
	codec, err := r.ReadByte()
	if err != nil {
		return h, ErrMalformed
	}
	h.Codec = VideoCodec(codec)
	if h.Width, err = readU32(r); err != nil {
		return h, err
	}
	if h.Height, err = readU32(r); err != nil {
		return h, err
	}
	flag, err := r.ReadByte()
	if err != nil {
		return h, ErrMalformed
	}
	if flag == dirtyRectFlag {
		h.HasDirtyRect = true
		if h.DirtyRect.X, err = readU32(r); err != nil {
			return h, err
		}
		if h.DirtyRect.Y, err = readU32(r); err != nil {
			return h, err
		}
		if h.DirtyRect.Width, err = readU32(r); err != nil {
			return h, err
		}
		if h.DirtyRect.Height, err = readU32(r); err != nil {
			return h, err
		}
	}
	return h, nil
}

// EncodeVideoPacket serializes p. The datagram boundary delimits the
// payload; no length prefix is needed for it.
func EncodeVideoPacket(p VideoPacket) []byte {
	var buf bytes.Buffer
	EncodeVideoPacketHeader(&buf, p.Header)
	buf.Write(p.Payload)
	return buf.Bytes()
}

// DecodeVideoPacket parses a datagram produced by EncodeVideoPacket.
func DecodeVideoPacket(data []byte) (VideoPacket, error) {
	r := bytes.NewReader(data)
	h, err := DecodeVideoPacketHeader(r)
	if err != nil {
		return VideoPacket{}, err
	}
	payload := make([]byte, r.Len())
	if _, err := io.ReadFull(r, payload); err != nil {
		return VideoPacket{}, ErrMalformed
	}
	return VideoPacket{Header: h, Payload: payload}, nil
}

// --- InputPacket ----------------------------------------------------------

// EncodeInputPacket serializes p.
func EncodeInputPacket(p InputPacket) []byte {
	var buf bytes.Buffer
	writeU64(&buf, p.Sequence)
	writeU64(&buf, p.TimestampUs)
	encodeInputEvent(&buf, p.Event)
	return buf.Bytes()
}

// DecodeInputPacket parses a datagram produced by EncodeInputPacket.
func DecodeInputPacket(data []byte) (InputPacket, error) {
	r := bytes.NewReader(data)
	var p InputPacket
	var err error
	if p.Sequence, err = readU64(r); err != nil {
		return p, err
	}
	if p.TimestampUs, err = readU64(r); err != nil {
		return p, err
	}
	if p.Event, err = decodeInputEvent(r); err != nil {
		return p, err
	}
	return p, nil
}

func encodeInputEvent(buf *bytes.Buffer, e InputEvent) {
	buf.WriteByte(byte(e.Kind))
	switch e.Kind {
	case EventMouseMove:
		writeF64(buf, e.X)
		writeF64(buf, e.Y)
		writeBool(buf, e.Normalized)
	case EventMouseButton:
		buf.WriteByte(byte(e.Button))
		buf.WriteByte(byte(e.ButtonState))
		writeF64(buf, e.X)
		writeF64(buf, e.Y)
	case EventMouseScroll:
		writeF64(buf, e.DeltaX)
		writeF64(buf, e.DeltaY)
		writeBool(buf, e.Precise)
	case EventKey:
		writeU16(buf, uint16(e.KeyCode))
		buf.WriteByte(byte(e.State))
		buf.WriteByte(packModifiers(e.Modifiers))
	case EventTextInput:
		writeString(buf, e.Text)
	}
}

func decodeInputEvent(r *bytes.Reader) (InputEvent, error) {
	var e InputEvent
	kind, err := r.ReadByte()
	if err != nil {
		return e, ErrMalformed
	}
	e.Kind = InputEventKind(kind)
	switch e.Kind {
	case EventMouseMove:
		if e.X, err = readF64(r); err != nil {
			return e, err
		}
		if e.Y, err = readF64(r); err != nil {
			return e, err
		}
		if e.Normalized, err = readBool(r); err != nil {
			return e, err
		}
	case EventMouseButton:
		b, err := r.ReadByte()
		if err != nil {
			return e, ErrMalformed
		}
		e.Button = MouseButton(b)
		s, err := r.ReadByte()
		if err != nil {
			return e, ErrMalformed
		}
		e.ButtonState = KeyState(s)
		if e.X, err = readF64(r); err != nil {
			return e, err
		}
		if e.Y, err = readF64(r); err != nil {
			return e, err
		}
	case EventMouseScroll:
		if e.DeltaX, err = readF64(r); err != nil {
			return e, err
		}
		if e.DeltaY, err = readF64(r); err != nil {
			return e, err
		}
		if e.Precise, err = readBool(r); err != nil {
			return e, err
		}
	case EventKey:
		code, err := readU16(r)
		if err != nil {
			return e, err
		}
		e.KeyCode = VirtualKeyCode(code)
		s, err := r.ReadByte()
		if err != nil {
			return e, ErrMalformed
		}
		e.State = KeyState(s)
		mods, err := r.ReadByte()
		if err != nil {
			return e, ErrMalformed
		}
		e.Modifiers = unpackModifiers(mods)
	case EventTextInput:
		if e.Text, err = readString(r); err != nil {
			return e, err
		}
	default:
		return e, ErrMalformed
	}
	return e, nil
}

func packModifiers(m KeyModifiers) byte {
	var b byte
	if m.Shift {
		b |= 1 << 0
	}
	if m.Ctrl {
		b |= 1 << 1
	}
	if m.Alt {
		b |= 1 << 2
	}
	if m.Meta {
		b |= 1 << 3
	}
	if m.CapsLock {
		b |= 1 << 4
	}
	if m.NumLock {
		b |= 1 << 5
	}
	return b
}

func unpackModifiers(b byte) KeyModifiers {
	return KeyModifiers{
		Shift:    b&(1<<0) != 0,
		Ctrl:     b&(1<<1) != 0,
		Alt:      b&(1<<2) != 0,
		Meta:     b&(1<<3) != 0,
		CapsLock: b&(1<<4) != 0,
		NumLock:  b&(1<<5) != 0,
	}
}

// --- SignalingMessage (binary form) --------------------------------------

// signaling message tags for the compact binary encoding (§4.1: "the
// signaling channel additionally accepts a UTF-8 JSON encoding"; this is
// the other one).
const (
	sigTagRegister byte = iota
	sigTagRegistered
	sigTagConnect
	sigTagIncomingConnection
	sigTagAccept
	sigTagReject
	sigTagIceCandidate
	sigTagConnected
	sigTagDisconnected
	sigTagError
	sigTagPing
	sigTagPong
)

var sigKindToTag = map[SignalingMessageKind]byte{
	SigRegister:           sigTagRegister,
	SigRegistered:         sigTagRegistered,
	SigConnect:            sigTagConnect,
	SigIncomingConnection: sigTagIncomingConnection,
	SigAccept:             sigTagAccept,
	SigReject:             sigTagReject,
	SigIceCandidate:       sigTagIceCandidate,
	SigConnected:          sigTagConnected,
	SigDisconnected:       sigTagDisconnected,
	SigError:              sigTagError,
	SigPing:               sigTagPing,
	SigPong:               sigTagPong,
}

var sigTagToKind = map[byte]SignalingMessageKind{
	sigTagRegister:           SigRegister,
	sigTagRegistered:         SigRegistered,
	sigTagConnect:            SigConnect,
	sigTagIncomingConnection: SigIncomingConnection,
	sigTagAccept:             SigAccept,
	sigTagReject:             SigReject,
	sigTagIceCandidate:       SigIceCandidate,
	sigTagConnected:          SigConnected,
	sigTagDisconnected:       SigDisconnected,
	sigTagError:              SigError,
	sigTagPing:               SigPing,
	sigTagPong:               SigPong,
}

// EncodeSignalingMessage serializes m for transport over a WebSocket binary
// frame. A peer may send either this or the JSON form; the broker accepts
// both on the same connection.
func EncodeSignalingMessage(m SignalingMessage) ([]byte, error) {
	tag, ok := sigKindToTag[m.Kind]
	if !ok {
		return nil, ErrMalformed
	}
	var buf bytes.Buffer
	buf.WriteByte(tag)
	switch m.Kind {
	case SigRegister, SigRegistered, SigConnected, SigDisconnected:
		writePeerId(&buf, m.PeerID)
	case SigConnect:
		writePeerId(&buf, m.TargetPeerID)
	case SigIncomingConnection, SigAccept:
		writePeerId(&buf, m.FromPeerID)
	case SigReject:
		writePeerId(&buf, m.FromPeerID)
		writeString(&buf, m.Reason)
	case SigIceCandidate:
		writePeerId(&buf, m.TargetPeerID)
		buf.WriteByte(byte(m.Candidate.CandidateType))
		writeString(&buf, m.Candidate.Address)
		writeU16(&buf, m.Candidate.Port)
		writeU32(&buf, m.Candidate.Priority)
	case SigError:
		writeString(&buf, m.Message)
	case SigPing, SigPong:
		// no payload
	}
	return buf.Bytes(), nil
}

// DecodeSignalingMessage parses a binary-form SignalingMessage.
func DecodeSignalingMessage(data []byte) (SignalingMessage, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return SignalingMessage{}, ErrMalformed
	}
	kind, ok := sigTagToKind[tag]
	if !ok {
		return SignalingMessage{}, ErrMalformed
	}
	m := SignalingMessage{Kind: kind}
	switch kind {
	case SigRegister, SigRegistered, SigConnected, SigDisconnected:
		if m.PeerID, err = readPeerId(r); err != nil {
			return m, err
		}
	case SigConnect:
		if m.TargetPeerID, err = readPeerId(r); err != nil {
			return m, err
		}
	case SigIncomingConnection, SigAccept:
		if m.FromPeerID, err = readPeerId(r); err != nil {
			return m, err
		}
	case SigReject:
		if m.FromPeerID, err = readPeerId(r); err != nil {
			return m, err
		}
		if m.Reason, err = readString(r); err != nil {
			return m, err
		}
	case SigIceCandidate:
		if m.TargetPeerID, err = readPeerId(r); err != nil {
			return m, err
		}
		ct, err := r.ReadByte()
		if err != nil {
			return m, ErrMalformed
		}
		m.Candidate.CandidateType = IceCandidateType(ct)
		if m.Candidate.Address, err = readString(r); err != nil {
			return m, err
		}
		if m.Candidate.Port, err = readU16(r); err != nil {
			return m, err
		}
		if m.Candidate.Priority, err = readU32(r); err != nil {
			return m, err
		}
	case SigError:
		if m.Message, err = readString(r); err != nil {
			return m, err
		}
	case SigPing, SigPong:
		// no payload
	}
	return m, nil
}

func writePeerId(buf *bytes.Buffer, p PeerId) {
	buf.Write(p[:])
}

func readPeerId(r *bytes.Reader) (PeerId, error) {
	var p PeerId
	if _, err := io.ReadFull(r, p[:]); err != nil {
		return PeerId{}, ErrMalformed
	}
	return p, nil
}

// --- SessionMessage (binary form) ----------------------------------------

// EncodeSessionMessage serializes m for the control channel. Retained for
// forward compatibility (see DESIGN.md); nothing in this module calls it
// today.
func EncodeSessionMessage(m SessionMessage) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Kind))
	switch m.Kind {
	case MsgHello:
		writePeerId(&buf, m.PeerID)
		writeU32(&buf, m.ProtocolVersion)
		buf.WriteByte(byte(m.Role))
		buf.Write(m.PublicKey[:])
	case MsgHelloAck:
		sidBytes, _ := m.SessionID.MarshalBinary()
		buf.Write(sidBytes)
	case MsgConfigure, MsgAdjustQuality:
		buf.WriteByte(byte(m.Config.Quality))
		buf.WriteByte(m.Config.TargetFPS)
		writeU32(&buf, m.Config.MaxBitrateKbps)
		writeBool(&buf, m.Config.AudioEnabled)
		writeBool(&buf, m.Config.ClipboardSync)
		writeBool(&buf, m.Config.FileTransfer)
		writeU32(&buf, m.TargetBitrateKbps)
		buf.WriteByte(m.TargetFPS)
	case MsgGoodbye:
		writeString(&buf, m.Reason)
	case MsgPing:
		writeU64(&buf, m.TimestampUs)
	case MsgPong:
		writeU64(&buf, m.TimestampUs)
		writeU64(&buf, m.PingTimestampUs)
	case MsgRequestKeyframe, MsgPause, MsgResume:
		// no payload
	}
	return buf.Bytes()
}

// DecodeSessionMessage parses a binary-form SessionMessage.
func DecodeSessionMessage(data []byte) (SessionMessage, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return SessionMessage{}, ErrMalformed
	}
	m := SessionMessage{Kind: SessionMessageKind(tag)}
	switch m.Kind {
	case MsgHello:
		if m.PeerID, err = readPeerId(r); err != nil {
			return m, err
		}
		if m.ProtocolVersion, err = readU32(r); err != nil {
			return m, err
		}
		role, err := r.ReadByte()
		if err != nil {
			return m, ErrMalformed
		}
		m.Role = SessionRole(role)
		if _, err := io.ReadFull(r, m.PublicKey[:]); err != nil {
			return m, ErrMalformed
		}
	case MsgHelloAck:
		sidBytes := make([]byte, 16)
		if _, err := io.ReadFull(r, sidBytes); err != nil {
			return m, ErrMalformed
		}
		if err := m.SessionID.UnmarshalBinary(sidBytes); err != nil {
			return m, ErrMalformed
		}
	case MsgConfigure, MsgAdjustQuality:
		q, err := r.ReadByte()
		if err != nil {
			return m, ErrMalformed
		}
		m.Config.Quality = QualityPreset(q)
		if m.Config.TargetFPS, err = r.ReadByte(); err != nil {
			return m, ErrMalformed
		}
		if m.Config.MaxBitrateKbps, err = readU32(r); err != nil {
			return m, err
		}
		if m.Config.AudioEnabled, err = readBool(r); err != nil {
			return m, err
		}
		if m.Config.ClipboardSync, err = readBool(r); err != nil {
			return m, err
		}
		if m.Config.FileTransfer, err = readBool(r); err != nil {
			return m, err
		}
		if m.TargetBitrateKbps, err = readU32(r); err != nil {
			return m, err
		}
		if m.TargetFPS, err = r.ReadByte(); err != nil {
			return m, ErrMalformed
		}
	case MsgGoodbye:
		if m.Reason, err = readString(r); err != nil {
			return m, err
		}
	case MsgPing:
		if m.TimestampUs, err = readU64(r); err != nil {
			return m, err
		}
	case MsgPong:
		if m.TimestampUs, err = readU64(r); err != nil {
			return m, err
		}
		if m.PingTimestampUs, err = readU64(r); err != nil {
			return m, err
		}
	case MsgRequestKeyframe, MsgPause, MsgResume:
		// no payload
	default:
		return m, ErrMalformed
	}
	return m, nil
}

// --- primitive helpers ------------------------------------------------

func writeU16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeF64(buf *bytes.Buffer, v float64) {
	writeU64(buf, math.Float64bits(v))
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeU16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func readU16(r *bytes.Reader) (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, ErrMalformed
	}
	return binary.LittleEndian.Uint16(tmp[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, ErrMalformed
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, ErrMalformed
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func readF64(r *bytes.Reader) (float64, error) {
	bits, err := readU64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, ErrMalformed
	}
	return b != 0, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU16(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", ErrMalformed
	}
	return string(buf), nil
}
