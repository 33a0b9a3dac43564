package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Conversation batching.
	DebounceWindow time.Duration

	// Task queue.
	DatabaseURL            string
	DequeueTimeout         time.Duration
	BackgroundPollInterval time.Duration
	BackgroundMaxPolls     int

	// Heartbeat cadence; 0 disables it.
	HeartbeatInterval time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "ombra"),
		AllowAnyOrigin:         false,
		DatabaseURL:            stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:        15 * time.Second,
		DebounceWindow:         2 * time.Second,
		DequeueTimeout:         30 * time.Second,
		BackgroundPollInterval: 5 * time.Second,
		BackgroundMaxPolls:     60,
		HeartbeatInterval:      30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DebounceWindow, err = durationFromEnv("APP_DEBOUNCE_WINDOW", cfg.DebounceWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.DequeueTimeout, err = durationFromEnv("APP_DEQUEUE_TIMEOUT", cfg.DequeueTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackgroundPollInterval, err = durationFromEnv("APP_BACKGROUND_POLL_INTERVAL", cfg.BackgroundPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.BackgroundMaxPolls, err = intFromEnv("APP_BACKGROUND_MAX_POLLS", cfg.BackgroundMaxPolls)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval, err = durationFromEnv("APP_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.DebounceWindow < 0 {
		return Config{}, fmt.Errorf("APP_DEBOUNCE_WINDOW must be >= 0")
	}
	if cfg.DequeueTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_DEQUEUE_TIMEOUT must be at least 1s")
	}
	if cfg.BackgroundPollInterval <= 0 {
		return Config{}, fmt.Errorf("APP_BACKGROUND_POLL_INTERVAL must be positive")
	}
	if cfg.BackgroundMaxPolls <= 0 {
		return Config{}, fmt.Errorf("APP_BACKGROUND_MAX_POLLS must be positive")
	}
	if cfg.HeartbeatInterval < 0 {
		return Config{}, fmt.Errorf("APP_HEARTBEAT_INTERVAL must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
