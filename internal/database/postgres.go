// Package database manages the PostgreSQL connection and schema for the
// durable alert log and client profiles.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds database connection configuration.
type Config struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnectTimeout     time.Duration
}

// DefaultConfig returns sensible defaults for database configuration.
func DefaultConfig(url string) Config {
	return Config{
		URL:                url,
		MaxConnections:     25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnectTimeout:     10 * time.Second,
	}
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// schema is applied idempotently at startup; deterministic alert IDs make
// the ON CONFLICT DO NOTHING append path safe to replay.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS client_alerts (
		id         TEXT PRIMARY KEY,
		client_id  TEXT NOT NULL,
		hazard_id  TEXT NOT NULL,
		sent_at    TIMESTAMPTZ NOT NULL,
		record     JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_client_alerts_client_sent
		ON client_alerts (client_id, sent_at DESC)`,
	`CREATE TABLE IF NOT EXISTS client_watermarks (
		client_id TEXT PRIMARY KEY,
		last_seen TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS client_pins (
		client_id TEXT NOT NULL,
		pin_slot  INT  NOT NULL CHECK (pin_slot BETWEEN 1 AND 3),
		lat       DOUBLE PRECISION,
		lon       DOUBLE PRECISION,
		name      TEXT,
		PRIMARY KEY (client_id, pin_slot)
	)`,
	`CREATE TABLE IF NOT EXISTS client_zones (
		client_id TEXT PRIMARY KEY,
		zone      TEXT NOT NULL
	)`,
}

// EnsureSchema creates the service tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// HealthCheck performs a database health check.
func HealthCheck(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
