// Package config loads and validates the layered configuration shared by
// the entangle-host, entangle-viewer, and entangle-signaling binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/parevo/entangle/internal/logging"
)

var log = logging.L("config")

// Config holds every knob any of the three binaries reads. A given binary
// only consults the subset relevant to its role; unused fields are simply
// ignored (e.g. entangle-signaling never reads Quality).
type Config struct {
	// Identity
	PeerID       string `mapstructure:"peer_id"`
	RemotePeerID string `mapstructure:"remote_peer_id"` // The Host to connect to; entangle-viewer takes it from its argument instead.

	// Signaling
	SignalingURL     string `mapstructure:"signaling_url"`
	SignalingListen  string `mapstructure:"signaling_listen"` // entangle-signaling only.

	// Transport / NAT traversal
	ListenAddr string `mapstructure:"listen_addr"` // Host only.
	STUNServer string `mapstructure:"stun_server"`

	// Media
	Quality string `mapstructure:"quality"` // "low_latency", "balanced", "high_quality"

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// Default returns a Config seeded with the spec's documented defaults.
func Default() *Config {
	return &Config{
		SignalingURL:    "ws://localhost:8080/ws",
		SignalingListen: ":8080",
		ListenAddr:      ":19823",
		Quality:         "balanced",
		LogLevel:        "info",
		LogFormat:       "text",
		LogMaxSizeMB:    50,
		LogMaxBackups:   3,
	}
}

// Load reads configuration from cfgFile (or the platform default config
// directory/name if empty), layers ENTANGLE_-prefixed environment
// variables over it, and validates the result. Fatal validation errors
// block startup; warnings are logged and the (possibly clamped) config is
// still returned.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("entangle")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ENTANGLE")
	// Unmarshal only sees keys viper knows about; binding each one lets an
	// ENTANGLE_* variable apply even when the config file omits that key.
	for _, key := range []string{
		"peer_id", "remote_peer_id", "signaling_url", "signaling_listen",
		"listen_addr", "stun_server", "quality", "log_level", "log_format",
		"log_file", "log_max_size_mb", "log_max_backups",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// Save writes cfg to the platform default config path.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg to cfgFile, or the platform default path if empty.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("peer_id", cfg.PeerID)
	v.Set("remote_peer_id", cfg.RemotePeerID)
	v.Set("signaling_url", cfg.SignalingURL)
	v.Set("signaling_listen", cfg.SignalingListen)
	v.Set("listen_addr", cfg.ListenAddr)
	v.Set("stun_server", cfg.STUNServer)
	v.Set("quality", cfg.Quality)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "entangle.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Entangle")
	case "darwin":
		return "/Library/Application Support/Entangle"
	default:
		return "/etc/entangle"
	}
}
