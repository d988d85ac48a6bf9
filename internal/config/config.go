package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaHazardTopic string
	KafkaGroupID     string
	HTTPAddr         string
	DatabaseURL      string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize int

	// Live channel configuration.
	HandshakeTimeout time.Duration
	SendBufferSize   int

	// Backlog endpoint configuration.
	RecentAlertLimit int
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	handshakeTimeout, err := parseDuration("WS_HANDSHAKE_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	batchSize, err := parsePositiveInt("BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}

	sendBuffer, err := parsePositiveInt("WS_SEND_BUFFER", 16)
	if err != nil {
		return nil, err
	}

	recentLimit, err := parsePositiveInt("RECENT_ALERT_LIMIT", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:     parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaHazardTopic: envOrDefault("KAFKA_HAZARD_TOPIC", "hazard-events"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "hazard-alert-service"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		BatchSize:        batchSize,
		HandshakeTimeout: handshakeTimeout,
		SendBufferSize:   sendBuffer,
		RecentAlertLimit: recentLimit,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaHazardTopic == "" {
		return nil, errors.New("KAFKA_HAZARD_TOPIC is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parseDuration(key, fallback string) (time.Duration, error) {
	raw := envOrDefault(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}
