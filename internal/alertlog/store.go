// Package alertlog is the durable, append-only per-client alert history and
// the server-side "last seen" watermark. The log is the source of truth a
// client consults on reconnect; live push is only an optimization on top.
package alertlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// Store persists alert records and watermarks in PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a Store over an open database handle.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Append writes one alert record. Keyed on the record's derived ID, so
// replaying a dispatch for the same (hazard, client) pair is a no-op rather
// than a duplicate.
func (s *Store) Append(ctx context.Context, record domain.AlertRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", record.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO client_alerts (id, client_id, hazard_id, sent_at, record)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		record.ID, record.ClientID, record.HazardID, record.SentAt, payload,
	)
	if err != nil {
		return fmt.Errorf("append alert %s for client %s: %w", record.ID, record.ClientID, err)
	}
	return nil
}

// Recent returns up to limit alert records for the client, most recent
// first.
func (s *Store) Recent(ctx context.Context, clientID string, limit int) ([]domain.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM client_alerts
		WHERE client_id = $1
		ORDER BY sent_at DESC
		LIMIT $2`,
		clientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts for client %s: %w", clientID, err)
	}
	defer rows.Close()

	var records []domain.AlertRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		var record domain.AlertRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("unmarshal alert row: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Watermark returns the client's last-seen timestamp, or the zero time when
// the client has never acknowledged an alert.
func (s *Store) Watermark(ctx context.Context, clientID string) (time.Time, error) {
	var lastSeen time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen FROM client_watermarks WHERE client_id = $1`,
		clientID,
	).Scan(&lastSeen)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query watermark for client %s: %w", clientID, err)
	}
	return lastSeen, nil
}

// AdvanceWatermark records that the client has seen every alert up to seenAt.
// Monotonic: a stale acknowledgement (e.g. from a second device that was
// offline) never moves the watermark backwards, so a Seen alert cannot
// regress to unseen.
func (s *Store) AdvanceWatermark(ctx context.Context, clientID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_watermarks (client_id, last_seen)
		VALUES ($1, $2)
		ON CONFLICT (client_id) DO UPDATE
		SET last_seen = GREATEST(client_watermarks.last_seen, EXCLUDED.last_seen)`,
		clientID, seenAt,
	)
	if err != nil {
		return fmt.Errorf("advance watermark for client %s: %w", clientID, err)
	}
	return nil
}

// MissedCount returns the number of logged alerts the client has not yet
// acknowledged: records with sent_at strictly after the watermark.
func (s *Store) MissedCount(ctx context.Context, clientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM client_alerts
		WHERE client_id = $1
		  AND sent_at > COALESCE(
			(SELECT last_seen FROM client_watermarks WHERE client_id = $1),
			'epoch'::timestamptz)`,
		clientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count missed alerts for client %s: %w", clientID, err)
	}
	return count, nil
}
