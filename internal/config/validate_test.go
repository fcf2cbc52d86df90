package config

import (
	"fmt"
	"testing"
)

func TestValidateTieredInvalidSignalingURLSchemeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SignalingURL = "http://example.com"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid signaling_url scheme should be fatal")
	}
}

func TestValidateTieredMalformedSignalingURLIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SignalingURL = "ws://[::1"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("malformed signaling_url should be fatal")
	}
}

func TestValidateTieredControlCharsInPeerIDIsFatal(t *testing.T) {
	cfg := Default()
	cfg.PeerID = "peer\x00with\x01control"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("control chars in peer_id should be fatal")
	}
}

func TestValidateTieredUnknownQualityIsWarningAndClamped(t *testing.T) {
	cfg := Default()
	cfg.Quality = "ultra"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unknown quality should not be fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown quality")
	}
	if cfg.Quality != "balanced" {
		t.Fatalf("Quality = %q, want clamped to balanced", cfg.Quality)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestValidateTieredNegativeLogMaxSizeClamped(t *testing.T) {
	cfg := Default()
	cfg.LogMaxSizeMB = -5
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("negative log_max_size_mb should not be fatal: %v", result.Fatals)
	}
	if cfg.LogMaxSizeMB != 50 {
		t.Fatalf("LogMaxSizeMB = %d, want 50", cfg.LogMaxSizeMB)
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.SignalingURL = "http://bad" // fatal
	cfg.Quality = "fake"            // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	cfg.PeerID = "host-1"
	cfg.SignalingURL = "wss://signal.example.com/ws"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}

func TestValidateTieredAcceptsEmptyPeerIDs(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("empty peer IDs (pre-registration) should not be fatal: %v", result.Fatals)
	}
}

