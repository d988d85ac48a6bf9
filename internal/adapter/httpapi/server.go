// Package httpapi exposes the service's HTTP surface: operational endpoints,
// the alert query API, client profile management, and the WebSocket upgrade
// route.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// AlertStore is the slice of the alert log the API reads and advances.
type AlertStore interface {
	Recent(ctx context.Context, clientID string, limit int) ([]domain.AlertRecord, error)
	MissedCount(ctx context.Context, clientID string) (int, error)
	AdvanceWatermark(ctx context.Context, clientID string, seenAt time.Time) error
}

// ProfileStore manages a client's points of interest and zone.
type ProfileStore interface {
	SetPoint(ctx context.Context, clientID string, slot int, pt domain.Point) error
	ClearPoint(ctx context.Context, clientID string, slot int) error
	SetZone(ctx context.Context, clientID, zone string) error
	Profile(ctx context.Context, clientID string) (domain.ClientProfile, error)
}

// Server exposes the HTTP API.
type Server struct {
	httpServer  *http.Server
	alerts      AlertStore
	profiles    ProfileStore
	recentLimit int
	logger      *slog.Logger
}

// NewServer wires all routes. wsHandler serves the WebSocket upgrade; pass
// nil to disable the live channel route.
func NewServer(addr string, ready ReadinessChecker, alerts AlertStore, profiles ProfileStore, wsHandler http.Handler, recentLimit int, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		alerts:      alerts,
		profiles:    profiles,
		recentLimit: recentLimit,
		logger:      logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /alerts/{clientID}", s.handleRecentAlerts)
	mux.HandleFunc("GET /alerts/{clientID}/cap", s.handleLatestCAP)
	mux.HandleFunc("GET /alerts/{clientID}/missed", s.handleMissedCount)
	mux.HandleFunc("POST /alerts/{clientID}/seen", s.handleSeen)

	mux.HandleFunc("GET /profiles/{clientID}", s.handleProfile)
	mux.HandleFunc("PUT /profiles/{clientID}/points/{slot}", s.handleSetPoint)
	mux.HandleFunc("DELETE /profiles/{clientID}/points/{slot}", s.handleClearPoint)
	mux.HandleFunc("PUT /profiles/{clientID}/zone", s.handleSetZone)

	if wsHandler != nil {
		mux.Handle("GET /ws", wsHandler)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	records, err := s.alerts.Recent(r.Context(), clientID, s.recentLimit)
	if err != nil {
		s.internalError(w, "query recent alerts", err)
		return
	}
	if records == nil {
		records = []domain.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleLatestCAP(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	records, err := s.alerts.Recent(r.Context(), clientID, 1)
	if err != nil {
		s.internalError(w, "query latest alert", err)
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no alerts for client"})
		return
	}

	doc, err := domain.CAPXML(records[0])
	if err != nil {
		s.internalError(w, "render cap document", err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(doc) //nolint:errcheck // best-effort response body
}

func (s *Server) handleMissedCount(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	missed, err := s.alerts.MissedCount(r.Context(), clientID)
	if err != nil {
		s.internalError(w, "count missed alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"missed": missed})
}

func (s *Server) handleSeen(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")

	var body struct {
		SeenAt string `json:"seenAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	seenAt, err := time.Parse(time.RFC3339, body.SeenAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seenAt must be RFC 3339"})
		return
	}

	if err := s.alerts.AdvanceWatermark(r.Context(), clientID, seenAt); err != nil {
		s.internalError(w, "advance watermark", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	prof, err := s.profiles.Profile(r.Context(), clientID)
	if err != nil {
		s.internalError(w, "load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (s *Server) handleSetPoint(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "slot must be an integer"})
		return
	}

	var pt domain.Point
	if err := json.NewDecoder(r.Body).Decode(&pt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	if err := s.profiles.SetPoint(r.Context(), clientID, slot, pt); err != nil {
		if isValidationError(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.internalError(w, "set point", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearPoint(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "slot must be an integer"})
		return
	}
	if err := s.profiles.ClearPoint(r.Context(), clientID, slot); err != nil {
		if isValidationError(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.internalError(w, "clear point", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetZone(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")

	var body struct {
		Zone string `json:"zone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	if err := s.profiles.SetZone(r.Context(), clientID, body.Zone); err != nil {
		s.internalError(w, "set zone", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// isValidationError separates caller mistakes from infrastructure faults.
func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrInvalidProfile)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response body
}
