package ratecontrol

import (
	"testing"
	"time"
)

func TestControllerHighRTTReducesBitrate(t *testing.T) {
	c := NewController(DefaultConfig())
	initial := c.Params()

	for i := 0; i < 20; i++ {
		c.RecordRTT(200 * time.Millisecond)
		time.Sleep(100 * time.Millisecond)
	}

	after := c.Params()
	if after.BitrateKbps >= initial.BitrateKbps {
		t.Fatalf("expected bitrate to decrease under sustained high RTT: before=%d after=%d",
			initial.BitrateKbps, after.BitrateKbps)
	}
}

func TestControllerLowRTTIncreasesBitrate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialBitrateKbps = 1000
	c := NewController(cfg)
	initial := c.Params()

	for i := 0; i < 20; i++ {
		c.RecordRTT(10 * time.Millisecond)
		time.Sleep(100 * time.Millisecond)
	}

	after := c.Params()
	if after.BitrateKbps <= initial.BitrateKbps {
		t.Fatalf("expected bitrate to increase under sustained low RTT: before=%d after=%d",
			initial.BitrateKbps, after.BitrateKbps)
	}
}

func TestControllerRespectsAdjustmentPeriod(t *testing.T) {
	c := NewController(DefaultConfig())
	initial := c.Params()

	c.RecordRTT(200 * time.Millisecond)
	c.RecordRTT(200 * time.Millisecond)
	c.RecordRTT(200 * time.Millisecond)

	after := c.Params()
	if after.BitrateKbps != initial.BitrateKbps {
		t.Fatalf("expected no adjustment within the rate-limit window, got bitrate change %d -> %d",
			initial.BitrateKbps, after.BitrateKbps)
	}
}

func TestControllerBitrateStaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	c := NewController(cfg)

	for i := 0; i < 100; i++ {
		c.RecordRTT(300 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	p := c.Params()
	if p.BitrateKbps < cfg.MinBitrateKbps {
		t.Fatalf("bitrate %d below floor %d", p.BitrateKbps, cfg.MinBitrateKbps)
	}
	if p.Quality < 30 {
		t.Fatalf("quality %d below floor 30", p.Quality)
	}
}

func TestControllerSetBitrateClamps(t *testing.T) {
	c := NewController(DefaultConfig())
	c.SetBitrate(999999)
	if got := c.Params().BitrateKbps; got != c.cfg.MaxBitrateKbps {
		t.Fatalf("SetBitrate did not clamp to max: got %d", got)
	}
	c.SetBitrate(1)
	if got := c.Params().BitrateKbps; got != c.cfg.MinBitrateKbps {
		t.Fatalf("SetBitrate did not clamp to min: got %d", got)
	}
}

func TestRTTStatsSnapshot(t *testing.T) {
	c := NewController(DefaultConfig())
	c.RecordRTT(10 * time.Millisecond)
	c.RecordRTT(20 * time.Millisecond)
	c.RecordRTT(30 * time.Millisecond)

	stats := c.RTTStatsSnapshot()
	if stats.SampleCount != 3 {
		t.Fatalf("SampleCount=%d, want 3", stats.SampleCount)
	}
	if stats.Min != 10*time.Millisecond || stats.Max != 30*time.Millisecond {
		t.Fatalf("min/max = %v/%v, want 10ms/30ms", stats.Min, stats.Max)
	}
}
