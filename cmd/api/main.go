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
	"rampbridge/internal/infrastructure/rates"
	"rampbridge/internal/infrastructure/signing"
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
		logFile = "logs/api.log"
	}
	if _, err := logging.Init(logging.Config{
		Service:    "rampbridge-api",
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

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "rampbridge-api", cfg.OtelEndpoint)
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

	rateProvider, err := buildRateProvider(cfg)
	if err != nil {
		slog.Error("rate provider error", "err", err)
		os.Exit(1)
	}

	signer, err := signing.NewSigner(cfg.SigningKey)
	if err != nil {
		slog.Error("signer error", "err", err)
		os.Exit(1)
	}

	processorClient, err := processor.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorSecret)
	if err != nil {
		slog.Error("processor client error", "err", err)
		os.Exit(1)
	}

	authorize, err := application.NewAuthorizeService(repo, rateProvider, signer, application.AuthorizeConfig{
		BaseCurrency:  cfg.BaseCurrency,
		QuoteCurrency: cfg.QuoteCurrency,
		MinPayout:     cfg.MinPayout,
		Tokens:        cfg.Tokens,
	})
	if err != nil {
		slog.Error("authorize service error", "err", err)
		os.Exit(1)
	}

	deposits, err := application.NewDepositService(repo, processorClient, rateProvider, application.DepositConfig{
		BaseCurrency:  cfg.BaseCurrency,
		QuoteCurrency: cfg.QuoteCurrency,
		Tokens:        cfg.Tokens,
	})
	if err != nil {
		slog.Error("deposit service error", "err", err)
		os.Exit(1)
	}

	transactions, err := application.NewTransactionService(repo)
	if err != nil {
		slog.Error("transaction service error", "err", err)
		os.Exit(1)
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

	httpServer, err := httpapi.NewServer(cfg, httpapi.Deps{
		Withdrawals:  authorize,
		Deposits:     deposits,
		Transactions: transactions,
		Payouts:      payouts,
		Store:        repo,
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

	slog.Info("api listening", "addr", cfg.HTTPAddr, "tokens", cfg.Tokens)
	if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("http server stopped", "err", err)
		os.Exit(1)
	}
}

// buildRateProvider prefers the live pricing service with the Redis
// read-through in front; STATIC_RATE is the dev fallback.
func buildRateProvider(cfg config.Config) (application.RateProvider, error) {
	if cfg.RateURL != "" {
		client, err := rates.NewClient(cfg.RateURL)
		if err != nil {
			return nil, err
		}
		cached, err := rates.NewCachedProvider(client, rates.CacheConfig{
			Addr: cfg.RedisAddr,
			TTL:  cfg.RateCacheTTL,
		})
		if err != nil {
			slog.Warn("rate cache disabled", "err", err)
			return client, nil
		}
		return cached, nil
	}
	return rates.NewStatic(cfg.StaticRate)
}
