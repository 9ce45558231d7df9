package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"AIRPLAY2_TIMING", "AIRPLAY2_CONNECT_TIMEOUT", "AIRPLAY2_DISCOVERY_TIMEOUT",
		"AIRPLAY2_KEEPALIVE_INTERVAL", "AIRPLAY2_PIN", "AIRPLAY2_DATA_DIR",
		"AIRPLAY2_DIAG_ADDR", "AIRPLAY2_LOG_LEVEL", "AIRPLAY2_LOG_FORMAT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	os.Args = []string{"airplay2-sender"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Timing != TimingAuto {
		t.Errorf("Timing = %q, want %q", cfg.Timing, TimingAuto)
	}
	if cfg.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %s, want %s", cfg.ConnectTimeout, defaultConnectTimeout)
	}
	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"airplay2-sender"}

	t.Setenv("AIRPLAY2_TIMING", "ptp")
	t.Setenv("AIRPLAY2_PIN", "1234")
	t.Setenv("AIRPLAY2_CONNECT_TIMEOUT", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Timing != TimingPTP {
		t.Errorf("Timing = %q, want ptp", cfg.Timing)
	}
	if cfg.PIN != "1234" {
		t.Errorf("PIN = %q, want 1234", cfg.PIN)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("ConnectTimeout = %s, want 30s", cfg.ConnectTimeout)
	}
}

func TestCLIFlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AIRPLAY2_TIMING", "ntp")
	os.Args = []string{"airplay2-sender", "-timing", "ptp"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Timing != TimingPTP {
		t.Errorf("Timing = %q, want cli-provided ptp over env ntp", cfg.Timing)
	}
}

func TestInvalidTimingRejected(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"airplay2-sender", "-timing", "bogus"}

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid timing mode")
	}
}

func TestInvalidLogLevelRejected(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"airplay2-sender", "-log-level", "verbose"}

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Errorf("SlogLevel() = %s, want DEBUG", cfg.SlogLevel())
	}
}
