package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCoordinates reports a latitude/longitude pair outside the WGS-84
// range. It rejects the whole hazard before matching begins.
var ErrInvalidCoordinates = errors.New("coordinates out of range")

// RawHazardRecord represents the flat JSON published by authority-facing
// services when a hazard is reported.
type RawHazardRecord struct {
	ID          string   `json:"id"`
	Event       string   `json:"event"` // free-form category, e.g. "Earthquake"
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Urgency     string   `json:"urgency"`
	Severity    string   `json:"severity"`
	Certainty   string   `json:"certainty"`
	Instruction string   `json:"instruction"`
	AreaDesc    string   `json:"areaDesc"`
	CreatedAt   string   `json:"createdAt"` // RFC 3339; message timestamp used when absent
}

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the pair lies within the WGS-84 range.
func (g Geo) Valid() bool {
	return g.Lat >= -90 && g.Lat <= 90 && g.Lon >= -180 && g.Lon <= 180
}

// HazardEvent is a reported calamity requiring possible notification.
// Immutable once created; later edits or deletions do not reach this service.
type HazardEvent struct {
	ID          string    `json:"id"`
	Event       string    `json:"event"`
	Geo         Geo       `json:"geo"`
	HasGeo      bool      `json:"has_geo"` // false for zone-only hazards
	Urgency     string    `json:"urgency"`
	Severity    string    `json:"severity"`
	Certainty   string    `json:"certainty"`
	Instruction string    `json:"instruction"`
	AreaDesc    string    `json:"areaDesc"`
	CreatedAt   time.Time `json:"createdAt"`

	RawPayload []byte `json:"-"`
}

// ParseRawEvent deserializes a RawEvent's value into a HazardEvent.
func ParseRawEvent(raw RawEvent) (HazardEvent, error) {
	var rec RawHazardRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return HazardEvent{}, fmt.Errorf("parse raw hazard: %w", err)
	}

	hazard := HazardEvent{
		ID:          rec.ID,
		Event:       rec.Event,
		Urgency:     rec.Urgency,
		Severity:    rec.Severity,
		Certainty:   rec.Certainty,
		Instruction: rec.Instruction,
		AreaDesc:    rec.AreaDesc,
		CreatedAt:   parseCreatedAt(rec.CreatedAt, raw.Timestamp),
		RawPayload:  raw.Value,
	}
	if rec.Lat != nil && rec.Lon != nil {
		hazard.Geo = Geo{Lat: *rec.Lat, Lon: *rec.Lon}
		hazard.HasGeo = true
	}
	if hazard.ID == "" {
		hazard.ID = generateHazardID(hazard)
	}
	return hazard, nil
}

// Validate rejects malformed hazards before any matching runs. A hazard
// without coordinates is valid (zone matching only); out-of-range
// coordinates or a missing event kind are not.
func (h HazardEvent) Validate() error {
	if h.Event == "" {
		return errors.New("hazard event kind is required")
	}
	if h.HasGeo && !h.Geo.Valid() {
		return fmt.Errorf("%w: lat=%.4f lon=%.4f", ErrInvalidCoordinates, h.Geo.Lat, h.Geo.Lon)
	}
	return nil
}

// parseCreatedAt parses an RFC 3339 timestamp, falling back to the Kafka
// message time when the field is absent or malformed.
func parseCreatedAt(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fallback
	}
	return t
}

// generateHazardID produces a deterministic ID from the hazard's key fields,
// used when the producer did not assign one. Reprocessing the same raw event
// yields the same ID, keeping downstream alert appends idempotent.
func generateHazardID(h HazardEvent) string {
	input := fmt.Sprintf("%s|%.4f|%.4f|%s|%d", h.Event, h.Geo.Lat, h.Geo.Lon, h.AreaDesc, h.CreatedAt.Unix())
	return "hzd-" + shortHash(input)
}
