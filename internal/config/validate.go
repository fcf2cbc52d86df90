package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

var validQualityPresets = map[string]bool{
	"low_latency":  true,
	"balanced":     true,
	"high_quality": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates validation problems that must block startup
// (Fatals) from ones that were auto-corrected and merely logged (Warnings).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether startup should be blocked.
func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings, for callers that want a
// single combined list (e.g. a `config validate` CLI command).
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks c for invalid values. Problems that would corrupt
// the wire protocol or cause a panic downstream (a signaling URL that does
// not parse or is not ws/wss, a peer id with control characters) are fatal.
// Problems with a safe fallback (an unknown quality preset, log level or
// log format, a negative log size or backup count) are clamped or ignored
// and reported only as warnings.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.SignalingURL != "" {
		u, err := url.Parse(c.SignalingURL)
		if err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("signaling_url %q is not a valid URL: %w", c.SignalingURL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			result.Fatals = append(result.Fatals, fmt.Errorf("signaling_url scheme must be ws or wss, got %q", u.Scheme))
		}
	}

	for _, s := range []struct{ name, value string }{
		{"peer_id", c.PeerID},
		{"remote_peer_id", c.RemotePeerID},
	} {
		for _, r := range s.value {
			if unicode.IsControl(r) {
				result.Fatals = append(result.Fatals, fmt.Errorf("%s contains control characters", s.name))
				break
			}
		}
	}

	if c.Quality != "" && !validQualityPresets[strings.ToLower(c.Quality)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("quality %q is not valid (use low_latency, balanced, high_quality), falling back to balanced", c.Quality))
		c.Quality = "balanced"
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.LogMaxSizeMB < 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_max_size_mb %d is negative, clamping to default 50", c.LogMaxSizeMB))
		c.LogMaxSizeMB = 50
	}
	if c.LogMaxBackups < 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_max_backups %d is negative, clamping to default 3", c.LogMaxBackups))
		c.LogMaxBackups = 3
	}

	return result
}
