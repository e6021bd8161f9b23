package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/app"
	"github.com/riskibarqy/duel-ingest/internal/config"
	"github.com/riskibarqy/duel-ingest/internal/observability"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.NewJSON(cfg.LogLevel).With("service", cfg.ServiceName, "env", cfg.AppEnv)
	logging.SetDefault(logger)
	defer func() { _ = logger.Sync() }()

	telemetry, err := observability.Start(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("start observability", "error", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("build app", "error", err)
		os.Exit(1)
	}

	srv, err := app.NewHTTPServer(cfg, a, logger)
	if err != nil {
		logger.Error("build http server", "error", err)
		os.Exit(1)
	}

	scheduler, err := startScheduler(cfg, a, logger.Named("scheduler"))
	if err != nil {
		logger.Error("start scheduler", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("http server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Error("close app", "error", err)
	}
	_ = telemetry.Shutdown(shutdownCtx, logger)

	logger.Info("http server stopped")
}

// startScheduler returns nil when INGEST_SCHEDULE is empty.
func startScheduler(cfg config.Config, a *app.App, logger *logging.Logger) (*cron.Cron, error) {
	if cfg.IngestSchedule == "" {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.IngestSchedule, func() {
		runID, err := a.Sync.Start(context.Background(), usecase.SyncRequest{Trigger: usecase.SyncTriggerSchedule})
		switch {
		case errors.Is(err, usecase.ErrConflict):
			logger.Info("scheduled pass skipped, another pass is running")
		case err != nil:
			logger.Error("scheduled pass failed to start", "error", err)
		default:
			logger.Info("scheduled pass started", "run_id", runID)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	logger.Info("ingestion schedule active", "schedule", cfg.IngestSchedule)
	return c, nil
}
