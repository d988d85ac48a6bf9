// Command alertd runs the hazard alert service: it consumes hazard events
// from Kafka, matches them against client profiles, appends CAP alert records
// to the durable per-client log, and pushes live notifications over
// WebSocket.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/hazard-alert-service/internal/adapter/httpapi"
	kafkaadapter "github.com/couchcryptid/hazard-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/hazard-alert-service/internal/adapter/ws"
	"github.com/couchcryptid/hazard-alert-service/internal/alertlog"
	"github.com/couchcryptid/hazard-alert-service/internal/config"
	"github.com/couchcryptid/hazard-alert-service/internal/database"
	"github.com/couchcryptid/hazard-alert-service/internal/dispatch"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/profile"
	"github.com/couchcryptid/hazard-alert-service/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	alerts := alertlog.NewStore(db, logger)
	profiles := profile.NewStore(db, logger)
	reg := registry.New()

	dispatcher := dispatch.New(profiles, alerts, reg, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	runner := dispatch.NewRunner(reader, dispatcher, logger, metrics, cfg.BatchSize)

	wsHandler := ws.NewHandler(reg, logger, metrics, cfg.HandshakeTimeout, cfg.SendBufferSize)
	srv := httpapi.NewServer(cfg.HTTPAddr, runner, alerts, profiles, wsHandler, cfg.RecentAlertLimit, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the dispatch runner.
	go func() {
		if err := runner.Run(ctx); err != nil {
			logger.Error("dispatch runner error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}

	logger.Info("shutdown complete")
}
