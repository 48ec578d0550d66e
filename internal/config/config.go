// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the notification client.
type Config struct {
	// Runtime mode: "debug" or "release". Drives logger and gin defaults.
	AppMode string `mapstructure:"APP_MODE"`

	// Logging Configuration
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Backend REST API (notification list/unread-count/mark-read/mark-all/delete)
	APIBaseURL string        `mapstructure:"API_BASE_URL"`
	APIToken   string        `mapstructure:"API_TOKEN"`
	APITimeout time.Duration `mapstructure:"API_TIMEOUT_SECONDS"`

	// Realtime broker endpoint (ws:// or wss://). The bearer token rides the
	// query string because the polling fallback cannot set headers.
	BrokerURL        string        `mapstructure:"BROKER_URL"`
	HandshakeTimeout time.Duration `mapstructure:"BROKER_HANDSHAKE_TIMEOUT_SECONDS"`

	// Subscription protocol
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL_MS"`

	// Reconnection policy: delay before attempt n is BASE * 1.5^n; the
	// supervisor gives up for good after MAX attempts.
	ReconnectBaseDelay   time.Duration `mapstructure:"RECONNECT_BASE_DELAY_MS"`
	MaxReconnectAttempts int           `mapstructure:"MAX_RECONNECT_ATTEMPTS"`

	// Liveness monitor / polling fallback
	MonitorSchedule string        `mapstructure:"MONITOR_SCHEDULE"`
	StaleThreshold  time.Duration `mapstructure:"STALE_THRESHOLD_SECONDS"`

	// Identity used by cmd/notifier (the library takes these per session).
	NotifyUserID int64  `mapstructure:"NOTIFY_USER_ID"`
	NotifyRole   string `mapstructure:"NOTIFY_ROLE"`
}

// Load attempts to load configuration from a .env file (if present) and
// environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	v := viper.New()

	// Set default values
	v.SetDefault("APP_MODE", "debug")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("API_BASE_URL", "")
	v.SetDefault("API_TOKEN", "")
	v.SetDefault("API_TIMEOUT_SECONDS", 15)

	v.SetDefault("BROKER_URL", "")
	v.SetDefault("BROKER_HANDSHAKE_TIMEOUT_SECONDS", 10)

	v.SetDefault("HEARTBEAT_INTERVAL_MS", 4000)

	v.SetDefault("RECONNECT_BASE_DELAY_MS", 1000)
	v.SetDefault("MAX_RECONNECT_ATTEMPTS", 5)

	v.SetDefault("MONITOR_SCHEDULE", "@every 10s")
	v.SetDefault("STALE_THRESHOLD_SECONDS", 30)

	v.SetDefault("NOTIFY_USER_ID", 0)
	v.SetDefault("NOTIFY_ROLE", "user")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	// Convert duration fields
	cfg.APITimeout = time.Duration(v.GetInt("API_TIMEOUT_SECONDS")) * time.Second
	cfg.HandshakeTimeout = time.Duration(v.GetInt("BROKER_HANDSHAKE_TIMEOUT_SECONDS")) * time.Second
	cfg.HeartbeatInterval = time.Duration(v.GetInt("HEARTBEAT_INTERVAL_MS")) * time.Millisecond
	cfg.ReconnectBaseDelay = time.Duration(v.GetInt("RECONNECT_BASE_DELAY_MS")) * time.Millisecond
	cfg.StaleThreshold = time.Duration(v.GetInt("STALE_THRESHOLD_SECONDS")) * time.Second

	// Basic validation for critical configs
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("FATAL: API_BASE_URL is not set. The notification client cannot load or reconcile without the REST API")
	}
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, fmt.Errorf("FATAL: BROKER_URL is not set. The notification client cannot open the realtime channel")
	}
	if cfg.MaxReconnectAttempts <= 0 {
		return nil, fmt.Errorf("FATAL: MAX_RECONNECT_ATTEMPTS must be positive, got %d", cfg.MaxReconnectAttempts)
	}

	return &cfg, nil
}
