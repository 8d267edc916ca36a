package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	StoreDriver string
	Port        string
	JWTSecret   string
	DevMode     bool

	LogLevel  string
	LogFormat string

	// LivenessInterval is how long a session stays ACTIVE after a verification.
	LivenessInterval time.Duration
	// GraceWindow is how long a pending session survives past its due time.
	GraceWindow time.Duration
	// SweepInterval is the period of the verification sweep.
	SweepInterval time.Duration
	// SendTimeout bounds a single per-connection send.
	SendTimeout time.Duration
	// RequestTTL is how long a chat request stays acceptable.
	RequestTTL time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:             "8080", // default port
		StoreDriver:      StoreDriverPostgres,
		LogLevel:         "info",
		LogFormat:        "json",
		LivenessInterval: 30 * time.Minute,
		GraceWindow:      5 * time.Minute,
		SweepInterval:    60 * time.Second,
		SendTimeout:      5 * time.Second,
		RequestTTL:       24 * time.Hour,
	}

	// Load DEV_MODE (optional, defaults to false)
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"
	if cfg.DevMode {
		cfg.LogFormat = "text"
	}

	if driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER"))); driver != "" {
		cfg.StoreDriver = driver
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}

	// DATABASE_URL is required for the postgres store
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.StoreDriver == StoreDriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	// Load PORT (optional, defaults to 8080)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Load JWT_SECRET (required)
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"LIVENESS_INTERVAL", &cfg.LivenessInterval},
		{"GRACE_WINDOW", &cfg.GraceWindow},
		{"SWEEP_INTERVAL", &cfg.SweepInterval},
		{"SEND_TIMEOUT", &cfg.SendTimeout},
		{"REQUEST_TTL", &cfg.RequestTTL},
	}
	for _, d := range durations {
		if err := loadDuration(d.env, d.dst); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func loadDuration(env string, dst *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", env, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", env, raw)
	}
	*dst = d
	return nil
}
