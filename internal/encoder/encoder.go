// Package encoder defines the video-encoder capability interface the Host
// pipeline consumes. The concrete H.264 encoder is out of scope (spec
// section 1): this package ships only the interface, shared types, and a
// deterministic stub backend for testing the pipeline above it.
package encoder

import (
	"errors"
	"sync"
	"time"

	"github.com/parevo/entangle/internal/capture"
)

// Codec names the bitstream format an encoder produces. H264 is the only
// one this system targets; the type exists for forward compatibility.
type Codec string

const CodecH264 Codec = "h264"

// RateControlMode selects how the encoder trades bitrate for quality.
type RateControlMode string

const (
	RateControlCBR RateControlMode = "cbr"
	RateControlVBR RateControlMode = "vbr"
)

// Preset trades encode speed for compression efficiency.
type Preset string

const (
	PresetUltrafast Preset = "ultrafast"
	PresetFast      Preset = "fast"
	PresetBalanced  Preset = "balanced"
)

// FrameType classifies an EncodedFrame's decodability.
type FrameType uint8

const (
	FrameTypeKey FrameType = iota
	FrameTypeDelta
	FrameTypeBidirectional
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeKey:
		return "key"
	case FrameTypeDelta:
		return "delta"
	case FrameTypeBidirectional:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// EncoderConfig seeds a VideoEncoder's initial parameters.
type EncoderConfig struct {
	Codec             Codec
	Width             int
	Height            int
	BitrateKbps       uint32
	FPS               int
	KeyframeInterval  int
	RateControl       RateControlMode
	Preset            Preset
	LowLatency        bool
}

// DefaultEncoderConfig matches the spec section 4.7 capture/encode worker
// defaults (3000 kbps, GOP 60, low latency) for a given resolution.
func DefaultEncoderConfig(width, height int) EncoderConfig {
	return EncoderConfig{
		Codec:            CodecH264,
		Width:            width,
		Height:           height,
		BitrateKbps:      3000,
		FPS:              30,
		KeyframeInterval: 60,
		RateControl:      RateControlCBR,
		Preset:           PresetFast,
		LowLatency:       true,
	}
}

// EncodedFrame is one bitstream unit an encoder emits. Data is Annex-B
// framed (00 00 00 01 start codes prepended if the backend doesn't already
// include them).
type EncodedFrame struct {
	Data         []byte
	Width        int
	Height       int
	FrameType    FrameType
	PtsUs        uint64
	DtsUs        uint64
	Sequence     uint64
	EncodeTimeUs uint64
}

// EncoderStats is a point-in-time snapshot of an encoder's counters.
type EncoderStats struct {
	FramesEncoded   uint64
	KeyframesForced uint64
	BytesProduced   uint64
}

// annexBStartCode is prepended to every stub-encoded frame so consumers can
// rely on Annex-B framing regardless of backend.
var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

var (
	// ErrNotInitialized is returned by Encode before Init.
	ErrNotInitialized = errors.New("encoder: not initialized")
)

// VideoEncoder is the capability interface the Host's capture/encode
// worker drives. This package ships only Stub, a deterministic backend
// that performs no real compression.
type VideoEncoder interface {
	Init(cfg EncoderConfig) error
	Encode(frame *capture.CapturedFrame) (EncodedFrame, error)
	ForceKeyframe()
	SetBitrate(kbps uint32)
	SetFPS(fps int)
	Flush() []EncodedFrame
	Stats() EncoderStats
}

// Stub is a deterministic VideoEncoder: it "encodes" by wrapping a short
// synthetic payload derived from the input frame's sequence number, so
// downstream fragmentation/reassembly and rate-control plumbing can be
// exercised without linking a real codec. Every keyframeInterval-th frame,
// or whenever ForceKeyframe has been called, it reports FrameTypeKey.
type Stub struct {
	mu               sync.Mutex
	cfg              EncoderConfig
	initialized      bool
	sequence         uint64
	forceNextKeyframe bool
	stats            EncoderStats
}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) Init(cfg EncoderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = 60
	}
	s.cfg = cfg
	s.initialized = true
	s.forceNextKeyframe = true // first frame is always a keyframe
	return nil
}

func (s *Stub) Encode(frame *capture.CapturedFrame) (EncodedFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return EncodedFrame{}, ErrNotInitialized
	}

	start := time.Now()

	isKeyframe := s.forceNextKeyframe || s.sequence%uint64(s.cfg.KeyframeInterval) == 0
	s.forceNextKeyframe = false

	payload := make([]byte, 0, len(annexBStartCode)+16)
	payload = append(payload, annexBStartCode...)
	payload = append(payload, byte(frame.Sequence), byte(frame.Sequence>>8), byte(frame.Sequence>>16), byte(frame.Sequence>>24))

	frameType := FrameTypeDelta
	if isKeyframe {
		frameType = FrameTypeKey
		s.stats.KeyframesForced++
	}

	pts := uint64(frame.Timestamp.UnixMicro())
	seq := s.sequence
	s.sequence++

	s.stats.FramesEncoded++
	s.stats.BytesProduced += uint64(len(payload))

	return EncodedFrame{
		Data:         payload,
		Width:        frame.Width,
		Height:       frame.Height,
		FrameType:    frameType,
		PtsUs:        pts,
		DtsUs:        pts,
		Sequence:     seq,
		EncodeTimeUs: uint64(time.Since(start).Microseconds()),
	}, nil
}

func (s *Stub) ForceKeyframe() {
	s.mu.Lock()
	s.forceNextKeyframe = true
	s.mu.Unlock()
}

func (s *Stub) SetBitrate(kbps uint32) {
	s.mu.Lock()
	s.cfg.BitrateKbps = kbps
	s.mu.Unlock()
}

func (s *Stub) SetFPS(fps int) {
	s.mu.Lock()
	s.cfg.FPS = fps
	s.mu.Unlock()
}

// Flush reports no buffered frames: the stub encodes synchronously with no
// internal reorder buffer.
func (s *Stub) Flush() []EncodedFrame { return nil }

func (s *Stub) Stats() EncoderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
