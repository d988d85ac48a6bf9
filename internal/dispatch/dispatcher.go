// Package dispatch orchestrates hazard fan-out: match the subscribed
// clients, encode one alert record per affected client, append it to the
// durable log, and push it over any live channel. The log append always
// happens — live delivery is an optimization, the log is what a client
// consults after reconnecting.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/registry"
)

// ProfileSource supplies the subscribed client population.
type ProfileSource interface {
	All(ctx context.Context) ([]domain.ClientProfile, error)
}

// AlertLog is the durable per-client alert history.
type AlertLog interface {
	Append(ctx context.Context, record domain.AlertRecord) error
}

// ChannelRegistry is the live-connection table consulted for push delivery.
type ChannelRegistry interface {
	Lookup(clientID string) (registry.Channel, bool)
	ForEach(fn func(registry.Handle))
}

// Dispatcher fans a validated hazard out to all affected clients.
type Dispatcher struct {
	profiles ProfileSource
	log      AlertLog
	registry ChannelRegistry
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Dispatcher.
func New(profiles ProfileSource, log AlertLog, reg ChannelRegistry, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		profiles: profiles,
		log:      log,
		registry: reg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Dispatch runs one match-encode-deliver cycle. Matching or validation
// failures reject the whole hazard; per-client log or send failures are
// isolated, logged, and never stop delivery to the remaining clients.
func (d *Dispatcher) Dispatch(ctx context.Context, hazard domain.HazardEvent) error {
	start := time.Now()

	if err := hazard.Validate(); err != nil {
		return fmt.Errorf("dispatch %s: %w", hazard.ID, err)
	}

	clients, err := d.profiles.All(ctx)
	if err != nil {
		return fmt.Errorf("dispatch %s: load profiles: %w", hazard.ID, err)
	}

	matches, err := domain.Match(hazard, clients)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", hazard.ID, err)
	}
	d.metrics.ClientsMatched.WithLabelValues("point").Add(float64(len(matches)))

	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		seen[m.ClientID] = true
	}
	zoneMatches := domain.MatchZones(hazard, clients, seen)
	d.metrics.ClientsMatched.WithLabelValues("zone").Add(float64(len(zoneMatches)))
	matches = append(matches, zoneMatches...)

	for _, match := range matches {
		record := domain.Encode(hazard, match)
		d.deliver(ctx, record)
	}

	d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	d.logger.Info("hazard dispatched",
		"hazard_id", hazard.ID,
		"event", hazard.Event,
		"affected", len(matches),
	)
	return nil
}

// deliver appends one record to the durable log and attempts the live push.
// Both failure modes are contained here.
func (d *Dispatcher) deliver(ctx context.Context, record domain.AlertRecord) {
	if err := d.log.Append(ctx, record); err != nil {
		d.metrics.AlertLogErrors.Inc()
		d.logger.Error("alert log append failed",
			"alert_id", record.ID,
			"client_id", record.ClientID,
			"error", err,
		)
	} else {
		d.metrics.AlertsLogged.Inc()
	}

	ch, ok := d.registry.Lookup(record.ClientID)
	if !ok {
		d.metrics.LiveSends.WithLabelValues("offline").Inc()
		return
	}

	payload, err := json.Marshal(record)
	if err != nil {
		d.logger.Error("marshal alert failed", "alert_id", record.ID, "error", err)
		return
	}

	// Fire and forget: no acknowledgement, no retry. The client recovers
	// missed alerts from the log on reconnect.
	if err := ch.Send(payload); err != nil {
		d.metrics.LiveSends.WithLabelValues("dropped").Inc()
		d.logger.Warn("live send failed",
			"alert_id", record.ID,
			"client_id", record.ClientID,
			"error", err,
		)
		return
	}
	d.metrics.LiveSends.WithLabelValues("delivered").Inc()
}

// BroadcastRefresh tells every connected client to re-pull the hazard list.
// Failures are logged; nothing is written to the alert log.
func (d *Dispatcher) BroadcastRefresh() {
	payload, err := json.Marshal(domain.RefreshMessage{Refresh: true})
	if err != nil {
		d.logger.Error("marshal refresh message failed", "error", err)
		return
	}

	d.registry.ForEach(func(h registry.Handle) {
		if err := h.Channel.Send(payload); err != nil {
			d.logger.Debug("refresh send failed",
				"client_id", h.ClientID,
				"connection_id", h.ConnectionID,
				"error", err,
			)
		}
	})
}
