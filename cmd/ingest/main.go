package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/riskibarqy/duel-ingest/internal/app"
	"github.com/riskibarqy/duel-ingest/internal/config"
	"github.com/riskibarqy/duel-ingest/internal/observability"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		feedPath    = flag.String("feed", "", "path to a match feed JSON file to import before the pass")
		concurrency = flag.Int("concurrency", 0, "parallel fetches, 0 uses INGEST_CONCURRENCY")
		retryErrors = flag.String("retry-errors", "", "true or false, empty uses INGEST_RETRY_ERRORS")
		importOnly  = flag.Bool("import-only", false, "import the feed and skip the fetch pass")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}

	logger := logging.NewConsole(cfg.LogLevel)
	logging.SetDefault(logger)
	defer func() { _ = logger.Sync() }()

	telemetry, err := observability.Start(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("start observability", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(ctx, logger)
	}()

	req := usecase.SyncRequest{Trigger: usecase.SyncTriggerCLI, Concurrency: *concurrency}
	if raw := strings.TrimSpace(*retryErrors); raw != "" {
		v, err := parseBool(raw)
		if err != nil {
			logger.Error("invalid -retry-errors", "value", raw, "error", err)
			return 2
		}
		req.RetryErrors = &v
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("build app", "error", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close app", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *feedPath != "" {
		raw, err := os.ReadFile(*feedPath)
		if err != nil {
			logger.Error("read feed", "path", *feedPath, "error", err)
			return 1
		}
		records, err := usecase.ParseFeed(raw)
		if err != nil {
			logger.Error("parse feed", "path", *feedPath, "error", err)
			return 1
		}
		imported, err := a.Sync.ImportFeed(ctx, records)
		if err != nil {
			logger.Error("import feed", "error", err)
			return 1
		}
		logger.Info("feed imported", "path", *feedPath, "matches", imported)
	}
	if *importOnly {
		return 0
	}

	req.OnProgress = func(p usecase.FetchProgress) {
		logger.Info("progress",
			"done", p.Done,
			"total", p.Total,
			"ok", p.OK,
			"fail", p.Fail,
			"elapsed", p.Elapsed.Round(time.Millisecond).String(),
			"eta", p.ETA.Round(time.Second).String(),
		)
	}

	report, err := a.Sync.Sync(ctx, req)
	if err != nil {
		logger.Error("ingestion pass failed", "error", err)
		return 1
	}

	logger.Info("ingestion pass finished",
		"run_id", report.RunID,
		"candidates", report.Candidates,
		"planned", report.Planned,
		"ok", report.Summary.OK,
		"fail", report.Summary.Fail,
		"missing", report.Summary.Missing,
		"errors", report.Summary.Errors,
		"skipped", report.Summary.Skipped,
		"duration", report.Summary.Duration.String(),
	)
	// Missing matches are a terminal outcome, transport and payload errors are not.
	if report.Summary.Errors > 0 {
		return 3
	}
	return 0
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("expected a boolean")
}
