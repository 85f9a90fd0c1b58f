// Package config reads sidecar settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	PushWebSocket = "ws"
	PushRedis     = "redis"
	PushOff       = "off"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	APIBaseURL      string
	IdentityBaseURL string
	OrgID           string
	UserID          string
	APIToken        string
	PageSize        int
	HTTPTimeout     time.Duration
	HTTPRetries     int

	PushMode           string
	PushURL            string
	RedisAddr          string
	RedisChannelPrefix string

	ArchiveDSN   string
	AMQPURL      string
	AMQPExchange string
	OTLPEndpoint string

	SidecarToken string
	DebugRoutes  bool
}

// Load reads the environment, seeded from a .env file when one exists.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		Port:               getEnv("PORT", "8090"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		APIBaseURL:         getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		IdentityBaseURL:    getEnv("IDENTITY_BASE_URL", ""),
		OrgID:              os.Getenv("ORG_ID"),
		UserID:             os.Getenv("USER_ID"),
		APIToken:           os.Getenv("API_TOKEN"),
		PushMode:           strings.ToLower(getEnv("PUSH_MODE", PushWebSocket)),
		PushURL:            getEnv("PUSH_URL", "ws://localhost:8000/connection/websocket"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "rooms:"),
		ArchiveDSN:         os.Getenv("ARCHIVE_DSN"),
		AMQPURL:            os.Getenv("AMQP_URL"),
		AMQPExchange:       getEnv("AMQP_EXCHANGE", "message_sync"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SidecarToken:       os.Getenv("SIDECAR_TOKEN"),
	}
	if cfg.IdentityBaseURL == "" {
		cfg.IdentityBaseURL = cfg.APIBaseURL
	}

	var err error
	if cfg.PageSize, err = getInt("PAGE_SIZE", 15); err != nil {
		return Config{}, err
	}
	if cfg.HTTPRetries, err = getInt("HTTP_RETRIES", 2); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = getDuration("HTTP_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.DebugRoutes, err = getBool("DEBUG_ROUTES", false); err != nil {
		return Config{}, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.PushMode {
	case PushWebSocket, PushRedis, PushOff:
	default:
		return fmt.Errorf("PUSH_MODE: unknown mode %q", c.PushMode)
	}
	if c.OrgID == "" {
		return fmt.Errorf("ORG_ID is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("USER_ID is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
