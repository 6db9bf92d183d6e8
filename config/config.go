package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultDBPath = "file:whatsapp.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&cache=shared&mode=rwc"

// Config holds the gateway's runtime settings, loaded from the environment
// with optional .env support.
type Config struct {
	ListenAddr   string
	DBPath       string
	MinSendDelay time.Duration
	MaxSendDelay time.Duration
	// SendRate is the hard pacing floor of the drain loop, in messages per
	// second, applied independently of the jittered delay bounds.
	SendRate float64
	LogLevel string
}

// Load reads GATEWAY_* environment variables on top of built-in defaults.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:   ":3000",
		DBPath:       defaultDBPath,
		MinSendDelay: time.Second,
		MaxSendDelay: 3 * time.Second,
		SendRate:     1,
		LogLevel:     "info",
	}

	if v := os.Getenv("GATEWAY_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GATEWAY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	var err error
	if cfg.MinSendDelay, err = envMillis("GATEWAY_SEND_DELAY_MIN_MS", cfg.MinSendDelay); err != nil {
		return nil, err
	}
	if cfg.MaxSendDelay, err = envMillis("GATEWAY_SEND_DELAY_MAX_MS", cfg.MaxSendDelay); err != nil {
		return nil, err
	}
	if v := os.Getenv("GATEWAY_SEND_RATE"); v != "" {
		if cfg.SendRate, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("GATEWAY_SEND_RATE must be messages per second: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envMillis(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer millisecond value: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func validate(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if cfg.MinSendDelay <= 0 {
		return fmt.Errorf("minimum send delay must be positive")
	}
	if cfg.MaxSendDelay < cfg.MinSendDelay {
		return fmt.Errorf("maximum send delay must not be below the minimum")
	}
	if cfg.SendRate <= 0 {
		return fmt.Errorf("send rate must be positive")
	}
	return nil
}
