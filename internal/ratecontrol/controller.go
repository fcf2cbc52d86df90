// Package ratecontrol adjusts encoding bitrate, frame rate, and quality in
// response to observed round-trip time, the way a TCP-style congestion
// controller adjusts a send window: smoothed RTT and RTT variance feed a
// decision, rate-limited to twice a second, that backs off under
// sustained delay and probes upward when the path looks clear.
package ratecontrol

import (
	"sync"
	"time"

	"github.com/parevo/entangle/internal/logging"
)

var log = logging.L("ratecontrol")

// Config seeds a Controller's bounds and adjustment rates.
type Config struct {
	MinBitrateKbps     uint32
	MaxBitrateKbps     uint32
	InitialBitrateKbps uint32
	TargetRTT          time.Duration
	RTTThreshold       time.Duration
	IncreaseRate       float64
	DecreaseRate       float64
	MinFPS             uint8
	MaxFPS             uint8
}

// DefaultConfig matches the original controller's tuning.
func DefaultConfig() Config {
	return Config{
		MinBitrateKbps:     500,
		MaxBitrateKbps:     10000,
		InitialBitrateKbps: 3000,
		TargetRTT:          50 * time.Millisecond,
		RTTThreshold:       100 * time.Millisecond,
		IncreaseRate:       0.05,
		DecreaseRate:       0.2,
		MinFPS:             10,
		MaxFPS:             60,
	}
}

// adjustmentPeriod is the minimum time between two adjustments, regardless
// of how often RecordRTT is called.
const adjustmentPeriod = 500 * time.Millisecond

// EncodingParams is the controller's current output: the set-points the
// Host pipeline's encoder should be configured with. Quality is a
// continuously adjusted 30-100 value, distinct from protocol.QualityPreset
// which only seeds the session's initial set-points.
type EncodingParams struct {
	BitrateKbps uint32
	FPS         uint8
	Quality     uint8
}

// RttStats is a recent-sample summary, independent of the smoothed
// estimate used for adjustment decisions.
type RttStats struct {
	Average     time.Duration
	Min         time.Duration
	Max         time.Duration
	Jitter      time.Duration
	SampleCount int
}

const (
	rttAlpha        = 0.125
	rttBeta         = 0.25
	sampleRetention = 2 * time.Second
)

type rttSample struct {
	rtt time.Duration
	at  time.Time
}

// Controller adjusts EncodingParams from a stream of RTT samples. All
// methods are safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	cfg Config

	samples     []rttSample
	smoothedRTT time.Duration
	rttVariance time.Duration

	params         EncodingParams
	lastAdjustment time.Time
}

// NewController builds a Controller seeded at cfg.InitialBitrateKbps,
// 30fps, quality 70 -- matching the original implementation regardless of
// cfg.MaxFPS, since the encoder negotiates its actual rate up from there.
func NewController(cfg Config) *Controller {
	return &Controller{
		cfg: cfg,
		params: EncodingParams{
			BitrateKbps: cfg.InitialBitrateKbps,
			FPS:         30,
			Quality:     70,
		},
		smoothedRTT:    50 * time.Millisecond,
		rttVariance:    10 * time.Millisecond,
		lastAdjustment: time.Now(),
	}
}

// RecordRTT feeds one new round-trip sample into the smoothed estimate and
// triggers an adjustment pass (itself rate-limited to adjustmentPeriod).
func (c *Controller) RecordRTT(rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.samples = append(c.samples, rttSample{rtt: rtt, at: now})
	cutoff := now.Add(-sampleRetention)
	for len(c.samples) > 0 && c.samples[0].at.Before(cutoff) {
		c.samples = c.samples[1:]
	}

	diff := rtt - c.smoothedRTT
	if diff < 0 {
		diff = -diff
	}
	c.rttVariance = time.Duration((1-rttBeta)*float64(c.rttVariance) + rttBeta*float64(diff))
	c.smoothedRTT = time.Duration((1-rttAlpha)*float64(c.smoothedRTT) + rttAlpha*float64(rtt))

	c.adjustParams(now)
}

// adjustParams must be called with mu held.
func (c *Controller) adjustParams(now time.Time) {
	if now.Sub(c.lastAdjustment) < adjustmentPeriod {
		return
	}
	c.lastAdjustment = now

	p := &c.params

	switch {
	case c.smoothedRTT > c.cfg.RTTThreshold:
		newBitrate := uint32(float64(p.BitrateKbps) * (1 - c.cfg.DecreaseRate))
		if newBitrate < c.cfg.MinBitrateKbps {
			newBitrate = c.cfg.MinBitrateKbps
		}
		p.BitrateKbps = newBitrate

		if p.BitrateKbps == c.cfg.MinBitrateKbps && p.FPS > c.cfg.MinFPS {
			newFPS := uint8(float64(p.FPS) * 0.8)
			if newFPS < c.cfg.MinFPS {
				newFPS = c.cfg.MinFPS
			}
			p.FPS = newFPS
		}

		newQuality := uint8(float64(p.Quality) * 0.9)
		if newQuality < 30 {
			newQuality = 30
		}
		p.Quality = newQuality

	case c.smoothedRTT < c.cfg.TargetRTT:
		newBitrate := uint32(float64(p.BitrateKbps) * (1 + c.cfg.IncreaseRate))
		if newBitrate > c.cfg.MaxBitrateKbps {
			newBitrate = c.cfg.MaxBitrateKbps
		}
		hasHeadroom := p.BitrateKbps < c.cfg.MaxBitrateKbps
		p.BitrateKbps = newBitrate

		if hasHeadroom && p.FPS < c.cfg.MaxFPS {
			p.FPS++
			if p.FPS > c.cfg.MaxFPS {
				p.FPS = c.cfg.MaxFPS
			}
		}

		newQuality := p.Quality + 2
		if newQuality > 100 {
			newQuality = 100
		}
		p.Quality = newQuality
	}
}

// Params returns the controller's current set-points.
func (c *Controller) Params() EncodingParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// SmoothedRTT returns the current smoothed RTT estimate.
func (c *Controller) SmoothedRTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smoothedRTT
}

// RTTVariance returns the current RTT variance estimate.
func (c *Controller) RTTVariance() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rttVariance
}

// SetBitrate overrides the current bitrate, clamped to [min, max]. Intended
// for tests and manual operator override.
func (c *Controller) SetBitrate(kbps uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.BitrateKbps = clampU32(kbps, c.cfg.MinBitrateKbps, c.cfg.MaxBitrateKbps)
}

// SetFPS overrides the current frame rate, clamped to [min, max].
func (c *Controller) SetFPS(fps uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.FPS = clampU8(fps, c.cfg.MinFPS, c.cfg.MaxFPS)
}

// RequestKeyframe hints that the encoder should produce a keyframe at its
// next opportunity, e.g. after sustained loss. It is a logged hint, not an
// enforced action: the caller decides whether and how to act on it.
func (c *Controller) RequestKeyframe() bool {
	log.Info("keyframe requested by rate controller")
	return true
}

// RTTStatsSnapshot summarizes the retained raw samples (distinct from the
// smoothed estimate used for adjustment decisions).
func (c *Controller) RTTStatsSnapshot() RttStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.samples) == 0 {
		return RttStats{}
	}

	var sum, min, max time.Duration
	min = c.samples[0].rtt
	for _, s := range c.samples {
		sum += s.rtt
		if s.rtt < min {
			min = s.rtt
		}
		if s.rtt > max {
			max = s.rtt
		}
	}
	avg := sum / time.Duration(len(c.samples))

	var jitter time.Duration
	if len(c.samples) > 1 {
		var total time.Duration
		for i := 1; i < len(c.samples); i++ {
			d := c.samples[i].rtt - c.samples[i-1].rtt
			if d < 0 {
				d = -d
			}
			total += d
		}
		jitter = total / time.Duration(len(c.samples)-1)
	}

	return RttStats{
		Average:     avg,
		Min:         min,
		Max:         max,
		Jitter:      jitter,
		SampleCount: len(c.samples),
	}
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampU8(v, lo, hi uint8) uint8 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
