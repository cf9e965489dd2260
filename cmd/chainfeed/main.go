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
	"rampbridge/internal/infrastructure/chainrpc"
	"rampbridge/internal/infrastructure/kafka"
	"rampbridge/internal/infrastructure/logging"
	"rampbridge/internal/infrastructure/mysql"
	"rampbridge/internal/infrastructure/sqlite"
	"rampbridge/internal/infrastructure/telemetry"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/chainfeed.log"
	}
	if _, err := logging.Init(logging.Config{
		Service:    "rampbridge-chainfeed",
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	cursor, err := buildCursorStore(cfg)
	if err != nil {
		slog.Error("cursor store error", "err", err)
		os.Exit(1)
	}

	rpcClient, err := chainrpc.NewClient(chainrpc.Config{
		URL:             cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		WithdrawalTopic: cfg.WithdrawalTopic,
		TransferTopic:   cfg.TransferTopic,
	})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.KafkaBrokers,
		TopicPrefix: cfg.KafkaTopicPrefix,
	})
	if err != nil {
		slog.Error("kafka error", "err", err)
		os.Exit(1)
	}
	defer producer.Close()

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "rampbridge-chainfeed", cfg.OtelEndpoint)
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

	feed, err := application.NewFeed(rpcClient, producer, cursor, feedObserver{}, application.FeedConfig{
		StartBlock:    cfg.StartBlock,
		Confirmations: cfg.Confirmations,
		BatchSize:     cfg.BatchSize,
		PollInterval:  cfg.PollInterval,
	})
	if err != nil {
		slog.Error("feed error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("chain feed started",
		"rpc", cfg.RPCURL,
		"contract", cfg.ContractAddress,
		"start", cfg.StartBlock,
		"confirmations", cfg.Confirmations,
		"batch", cfg.BatchSize,
	)
	if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("chain feed stopped", "err", err)
		os.Exit(1)
	}
}

// buildCursorStore uses the local SQLite file when configured; otherwise the
// cursor shares the ledger database.
func buildCursorStore(cfg config.Config) (application.CursorStore, error) {
	if cfg.CursorDBPath != "" {
		return sqlite.NewRepository(cfg.CursorDBPath)
	}
	return mysql.NewRepository(cfg.DBDSN)
}

type feedObserver struct{}

func (feedObserver) OnLatestBlock(block uint64) {}

func (feedObserver) OnBatchProcessed(fromBlock, toBlock uint64, eventCount int) {
	slog.Info("feed batch published",
		"from", fromBlock,
		"to", toBlock,
		"events", eventCount,
	)
}
