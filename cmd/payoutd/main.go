package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rampbridge/internal/application"
	"rampbridge/internal/config"
	"rampbridge/internal/infrastructure/logging"
	"rampbridge/internal/infrastructure/mysql"
	"rampbridge/internal/infrastructure/processor"
	"rampbridge/internal/infrastructure/telemetry"
	"rampbridge/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/payoutd.log"
	}
	if _, err := logging.Init(logging.Config{
		Service:    "rampbridge-payoutd",
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	repo, err := mysql.NewRepository(cfg.DBDSN)
	if err != nil {
		slog.Error("db error", "err", err)
		os.Exit(1)
	}

	processorClient, err := processor.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorSecret)
	if err != nil {
		slog.Error("processor client error", "err", err)
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "rampbridge-payoutd", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	metrics := httpapi.NewMetrics()
	payouts, err := application.NewPayoutOrchestrator(repo, processorClient, metrics, application.PayoutConfig{
		MinAmount:   cfg.MinPayout,
		Currency:    cfg.QuoteCurrency,
		MaxAttempts: cfg.PayoutMaxAttempts,
	})
	if err != nil {
		slog.Error("payout orchestrator error", "err", err)
		os.Exit(1)
	}

	// Webhooks may be pointed at this daemon instead of the api; both land on
	// the same conditional transitions.
	httpServer, err := httpapi.NewServer(cfg, httpapi.Deps{
		Payouts: payouts,
		Store:   repo,
	}, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	slog.Info("payout daemon started", "interval", cfg.PayoutInterval, "max_attempts", cfg.PayoutMaxAttempts)
	if err := payouts.Run(ctx, cfg.PayoutInterval); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("payout daemon stopped", "err", err)
		os.Exit(1)
	}
}
