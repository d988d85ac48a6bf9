// Package profile stores client subscription profiles: up to three
// slot-addressed points of interest plus an optional zone descriptor.
// Profiles are provisioned lazily on first client activity.
package profile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// Store persists client points and zones in PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a Store over an open database handle.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// SetPoint installs a point in the given slot (1..3), replacing any point
// already there. The profile row is created implicitly; there is no separate
// provisioning step for points.
func (s *Store) SetPoint(ctx context.Context, clientID string, slot int, pt domain.Point) error {
	if err := domain.ValidatePoint(slot, pt); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_pins (client_id, pin_slot, lat, lon, name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id, pin_slot) DO UPDATE
		SET lat = EXCLUDED.lat, lon = EXCLUDED.lon, name = EXCLUDED.name`,
		clientID, slot, pt.Geo.Lat, pt.Geo.Lon, pt.Name,
	)
	if err != nil {
		return fmt.Errorf("set point slot %d for client %s: %w", slot, clientID, err)
	}
	return nil
}

// ClearPoint removes the point in the given slot. Clearing an empty slot is
// a no-op.
func (s *Store) ClearPoint(ctx context.Context, clientID string, slot int) error {
	if slot < 1 || slot > domain.MaxPoints {
		return fmt.Errorf("%w: point slot %d out of range 1..%d", domain.ErrInvalidProfile, slot, domain.MaxPoints)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM client_pins WHERE client_id = $1 AND pin_slot = $2`,
		clientID, slot,
	)
	if err != nil {
		return fmt.Errorf("clear point slot %d for client %s: %w", slot, clientID, err)
	}
	return nil
}

// SetZone installs the client's textual zone descriptor (country, county, or
// town), used as a coarse fallback when no point matches.
func (s *Store) SetZone(ctx context.Context, clientID, zone string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_zones (client_id, zone)
		VALUES ($1, $2)
		ON CONFLICT (client_id) DO UPDATE SET zone = EXCLUDED.zone`,
		clientID, zone,
	)
	if err != nil {
		return fmt.Errorf("set zone for client %s: %w", clientID, err)
	}
	return nil
}

// Profile returns one client's profile. A client with no stored points or
// zone yields an empty, unsubscribed profile, not an error.
func (s *Store) Profile(ctx context.Context, clientID string) (domain.ClientProfile, error) {
	profile := domain.ClientProfile{ClientID: clientID}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pin_slot, lat, lon, name FROM client_pins
		WHERE client_id = $1
		ORDER BY pin_slot`,
		clientID,
	)
	if err != nil {
		return profile, fmt.Errorf("query points for client %s: %w", clientID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var slot int
		var pt domain.Point
		if err := rows.Scan(&slot, &pt.Geo.Lat, &pt.Geo.Lon, &pt.Name); err != nil {
			return profile, fmt.Errorf("scan point row: %w", err)
		}
		profile.Points = append(profile.Points, pt)
	}
	if err := rows.Err(); err != nil {
		return profile, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT zone FROM client_zones WHERE client_id = $1`,
		clientID,
	).Scan(&profile.Zone)
	if err != nil && err != sql.ErrNoRows {
		return profile, fmt.Errorf("query zone for client %s: %w", clientID, err)
	}

	return profile, nil
}

// All returns every subscribed client profile, points in slot order. Used by
// the dispatcher's fan-out; clients with neither points nor a zone are not
// returned at all.
func (s *Store) All(ctx context.Context) ([]domain.ClientProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.client_id, p.pin_slot, p.lat, p.lon, p.name
		FROM client_pins p
		ORDER BY p.client_id, p.pin_slot`,
	)
	if err != nil {
		return nil, fmt.Errorf("query all points: %w", err)
	}
	defer rows.Close()

	byClient := map[string]*domain.ClientProfile{}
	var order []string
	for rows.Next() {
		var clientID string
		var slot int
		var pt domain.Point
		if err := rows.Scan(&clientID, &slot, &pt.Geo.Lat, &pt.Geo.Lon, &pt.Name); err != nil {
			return nil, fmt.Errorf("scan point row: %w", err)
		}
		profile, ok := byClient[clientID]
		if !ok {
			profile = &domain.ClientProfile{ClientID: clientID}
			byClient[clientID] = profile
			order = append(order, clientID)
		}
		profile.Points = append(profile.Points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	zoneRows, err := s.db.QueryContext(ctx, `SELECT client_id, zone FROM client_zones`)
	if err != nil {
		return nil, fmt.Errorf("query all zones: %w", err)
	}
	defer zoneRows.Close()

	for zoneRows.Next() {
		var clientID, zone string
		if err := zoneRows.Scan(&clientID, &zone); err != nil {
			return nil, fmt.Errorf("scan zone row: %w", err)
		}
		profile, ok := byClient[clientID]
		if !ok {
			profile = &domain.ClientProfile{ClientID: clientID}
			byClient[clientID] = profile
			order = append(order, clientID)
		}
		profile.Zone = zone
	}
	if err := zoneRows.Err(); err != nil {
		return nil, err
	}

	profiles := make([]domain.ClientProfile, 0, len(order))
	for _, clientID := range order {
		profiles = append(profiles, *byClient[clientID])
	}
	return profiles, nil
}
