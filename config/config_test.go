package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":3000" {
		t.Errorf("expected default addr :3000, got %s", cfg.ListenAddr)
	}
	if cfg.MinSendDelay != time.Second || cfg.MaxSendDelay != 3*time.Second {
		t.Errorf("unexpected default delays: %v / %v", cfg.MinSendDelay, cfg.MaxSendDelay)
	}
	if cfg.SendRate != 1 {
		t.Errorf("expected default send rate 1/s, got %v", cfg.SendRate)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", ":9090")
	t.Setenv("GATEWAY_SEND_DELAY_MIN_MS", "500")
	t.Setenv("GATEWAY_SEND_DELAY_MAX_MS", "800")
	t.Setenv("GATEWAY_SEND_RATE", "0.5")
	t.Setenv("GATEWAY_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("addr override ignored: %s", cfg.ListenAddr)
	}
	if cfg.MinSendDelay != 500*time.Millisecond || cfg.MaxSendDelay != 800*time.Millisecond {
		t.Errorf("delay overrides ignored: %v / %v", cfg.MinSendDelay, cfg.MaxSendDelay)
	}
	if cfg.SendRate != 0.5 {
		t.Errorf("send rate override ignored: %v", cfg.SendRate)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level override ignored: %s", cfg.LogLevel)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "non-numeric delay", key: "GATEWAY_SEND_DELAY_MIN_MS", value: "fast"},
		{name: "max below min", key: "GATEWAY_SEND_DELAY_MAX_MS", value: "100"},
		{name: "zero minimum", key: "GATEWAY_SEND_DELAY_MIN_MS", value: "0"},
		{name: "non-numeric rate", key: "GATEWAY_SEND_RATE", value: "fast"},
		{name: "zero rate", key: "GATEWAY_SEND_RATE", value: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
