package protocol

import "github.com/google/uuid"

// MaxDatagramSize is the transport's MTU: no serialized VideoPacket or
// InputPacket may exceed this many bytes.
const MaxDatagramSize = 1200

// VideoCodec identifies the bitstream format carried in a VideoPacket.
type VideoCodec uint8

const (
	CodecH264 VideoCodec = iota
	CodecH265
	CodecVP9
	CodecAV1
)

// FrameType classifies a video frame's decode dependency.
type FrameType uint8

const (
	FrameKey FrameType = iota
	FrameDelta
	FrameBidirectional
)

// DirtyRect is a bounding region of pixels changed since the previous frame.
type DirtyRect struct {
	X, Y, Width, Height uint32
}

// VideoPacketHeader is shared by every fragment of one frame except
// FragmentIndex. The concatenation of fragment payloads in FragmentIndex
// order is the frame's encoded bitstream.
type VideoPacketHeader struct {
	FrameID         uint64
	FragmentIndex   uint16
	TotalFragments  uint16
	TimestampUs     uint64
	FrameType       FrameType
	Codec           VideoCodec
	Width           uint32
	Height          uint32
	HasDirtyRect    bool
	DirtyRect       DirtyRect
}

// VideoPacket is one fragment: header plus payload bytes.
type VideoPacket struct {
	Header  VideoPacketHeader
	Payload []byte
}

// VideoAck is a wire placeholder for future RTT measurement; the Host
// pipeline does not construct or consume it today (see DESIGN.md).
type VideoAck struct {
	FrameID           uint64
	ReceivedFragments uint64 // bitmask, fragment index < 64
	RttUs             uint64
	DecodeTimeUs      uint64
	RenderTimeUs      uint64
	BufferOccupancy   uint8
}

// ClipboardContentKind discriminates ClipboardPacket's payload.
type ClipboardContentKind uint8

const (
	ClipboardText ClipboardContentKind = iota
	ClipboardImage
	ClipboardFiles
)

// ClipboardPacket is a wire placeholder per the "clipboard beyond protocol
// placeholders" non-goal: the type round-trips through the codec but no
// clipboard-sync logic constructs or consumes it.
type ClipboardPacket struct {
	Kind        ClipboardContentKind
	TimestampUs uint64
	Text        string
	ImageWidth  uint32
	ImageHeight uint32
	ImageRGBA   []byte
	Files       []string
}

// FileChunkPacket is a wire placeholder per the "file transfer beyond
// protocol placeholders" non-goal.
type FileChunkPacket struct {
	TransferID uuid.UUID
	Filename   string
	TotalSize  uint64
	Offset     uint64
	Data       []byte
	IsFinal    bool
}
