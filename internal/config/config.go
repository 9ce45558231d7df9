// Package config loads runtime configuration for the airplay2 sender:
// the timing-protocol policy, connect and discovery timeouts, the
// keep-alive interval, the PIN for full SRP pair-setup, the pairing-store
// directory, diagnostics server settings and logging. Precedence is
// CLI flags > environment variables > defaults, same as flowpbx-flowpbx.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// TimingMode selects which master clock protocol a connection negotiates.
type TimingMode string

const (
	// TimingAuto picks PTP when the device advertises AirPlay 2 or the PTP
	// capability bit, NTP otherwise (spec.md §4.1 step 4b).
	TimingAuto TimingMode = "auto"
	TimingNTP  TimingMode = "ntp"
	TimingPTP  TimingMode = "ptp"
)

// Config holds all runtime configuration for the airplay2 sender.
type Config struct {
	Timing TimingMode

	// ConnectTimeout bounds the entire Connect operation (spec.md §4.1).
	ConnectTimeout time.Duration
	// DiscoveryTimeout bounds a single Scan call.
	DiscoveryTimeout time.Duration
	// KeepAliveInterval is how often the keep-alive task probes /info.
	KeepAliveInterval time.Duration

	// PIN, when non-empty, is used for full SRP pair-setup (spec.md §4.2
	// policy step 3) in place of the built-in dictionary.
	PIN string

	// DataDir holds the pairing identity store (internal/pairstore).
	DataDir string

	// DiagAddr is the listen address for the optional diagnostics HTTP
	// server (empty disables it).
	DiagAddr string

	LogLevel  string
	LogFormat string // "text" or "json"

	// DeviceName, when non-empty, selects which discovered device
	// cmd/airplay2-sender connects to (substring match against the
	// device's advertised name). Empty means "use the first result".
	DeviceName string
	// PlayURL, when non-empty, is a WAV file path or http(s) URL
	// cmd/airplay2-sender streams immediately after connecting.
	PlayURL string
}

const (
	defaultConnectTimeout    = 15 * time.Second
	defaultDiscoveryTimeout  = 5 * time.Second
	defaultKeepAliveInterval = 1 * time.Second
	defaultDataDir           = "./data"
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
)

// envPrefix is the prefix for all airplay2 environment variables.
const envPrefix = "AIRPLAY2_"

// Load parses configuration from CLI flags and environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("airplay2-sender", flag.ContinueOnError)

	var timing string
	fs.StringVar(&timing, "timing", string(TimingAuto), "master clock policy (auto, ntp, ptp)")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", defaultConnectTimeout, "timeout for the whole connect sequence")
	fs.DurationVar(&cfg.DiscoveryTimeout, "discovery-timeout", defaultDiscoveryTimeout, "timeout for a single scan() call")
	fs.DurationVar(&cfg.KeepAliveInterval, "keepalive-interval", defaultKeepAliveInterval, "interval between keep-alive GET /info probes")
	fs.StringVar(&cfg.PIN, "pin", "", "PIN for full SRP pair-setup (replaces the built-in dictionary)")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the pairing identity store")
	fs.StringVar(&cfg.DiagAddr, "diag-addr", "", "listen address for the diagnostics HTTP server (disabled if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.DeviceName, "device", "", "substring match against the device name to connect to (default: first discovered)")
	fs.StringVar(&cfg.PlayURL, "play", "", "WAV file path or http(s) URL to stream after connecting")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	cfg.Timing = TimingMode(timing)

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line, preserving CLI > env > default.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"timing":             envPrefix + "TIMING",
		"connect-timeout":    envPrefix + "CONNECT_TIMEOUT",
		"discovery-timeout":  envPrefix + "DISCOVERY_TIMEOUT",
		"keepalive-interval": envPrefix + "KEEPALIVE_INTERVAL",
		"pin":                envPrefix + "PIN",
		"data-dir":           envPrefix + "DATA_DIR",
		"diag-addr":          envPrefix + "DIAG_ADDR",
		"log-level":          envPrefix + "LOG_LEVEL",
		"log-format":         envPrefix + "LOG_FORMAT",
		"device":             envPrefix + "DEVICE",
		"play":               envPrefix + "PLAY",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "timing":
			cfg.Timing = TimingMode(val)
		case "connect-timeout":
			if d, err := time.ParseDuration(val); err == nil {
				cfg.ConnectTimeout = d
			}
		case "discovery-timeout":
			if d, err := time.ParseDuration(val); err == nil {
				cfg.DiscoveryTimeout = d
			}
		case "keepalive-interval":
			if d, err := time.ParseDuration(val); err == nil {
				cfg.KeepAliveInterval = d
			}
		case "pin":
			cfg.PIN = val
		case "data-dir":
			cfg.DataDir = val
		case "diag-addr":
			cfg.DiagAddr = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "device":
			cfg.DeviceName = val
		case "play":
			cfg.PlayURL = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	switch c.Timing {
	case TimingAuto, TimingNTP, TimingPTP:
	default:
		return fmt.Errorf("timing must be one of auto, ntp, ptp; got %q", c.Timing)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect-timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("keepalive-interval must be positive, got %s", c.KeepAliveInterval)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
