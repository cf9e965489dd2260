package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"rampbridge/internal/application"
	"rampbridge/internal/config"
	"rampbridge/internal/domain"
	"rampbridge/internal/infrastructure/clickhouse"
	"rampbridge/internal/infrastructure/logging"
	"rampbridge/internal/infrastructure/mysql"
	"rampbridge/internal/infrastructure/telemetry"
	"rampbridge/internal/interfaces/httpapi"
	"rampbridge/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
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
		logFile = "logs/indexer.log"
	}
	if _, err := logging.Init(logging.Config{
		Service:    "rampbridge-indexer",
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

	var audit *clickhouse.EventAudit
	if cfg.ClickhouseDSN != "" {
		audit, err = clickhouse.NewEventAudit(cfg.ClickhouseDSN)
		if err != nil {
			slog.Error("clickhouse error", "err", err)
			os.Exit(1)
		}
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "rampbridge-indexer", cfg.OtelEndpoint)
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
	reconciler, err := application.NewReconciler(repo, metrics, cfg.OrphanMaxAttempts)
	if err != nil {
		slog.Error("reconciler error", "err", err)
		os.Exit(1)
	}

	transactions, err := application.NewTransactionService(repo)
	if err != nil {
		slog.Error("transaction service error", "err", err)
		os.Exit(1)
	}

	httpServer, err := httpapi.NewServer(cfg, httpapi.Deps{
		Transactions: transactions,
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

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	go func() {
		if err := reconciler.RunOrphanRetry(ctx, cfg.OrphanRetryInterval); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("orphan retry stopped", "err", err)
		}
	}()

	if len(cfg.ChainIDs) == 0 {
		slog.Error("CHAIN_IDS is required for event consumption")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	readers := make([]*kafka.Reader, 0, len(cfg.ChainIDs))
	for _, chainID := range cfg.ChainIDs {
		topic := fmt.Sprintf("%s-%d", cfg.KafkaTopicPrefix, chainID)
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaGroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		readers = append(readers, reader)

		wg.Add(1)
		go func(chain uint64, r *kafka.Reader) {
			defer wg.Done()
			consumeEvents(ctx, r, reconciler, audit, metrics, chain)
		}(chainID, reader)
	}

	slog.Info("event consumption started", "topics", len(cfg.ChainIDs), "group", cfg.KafkaGroupID)
	<-ctx.Done()
	for _, reader := range readers {
		_ = reader.Close()
	}
	wg.Wait()
}

func consumeEvents(ctx context.Context, reader *kafka.Reader, reconciler *application.Reconciler, audit *clickhouse.EventAudit, metrics *httpapi.Metrics, chainID uint64) {
	tracer := otel.Tracer("rampbridge/indexer")

	for {
		message, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			metrics.IncKafkaFetchErr()
			slog.Error("kafka fetch error", "err", err)
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			slog.Warn("message decode error", "err", err)
			metrics.IncKafkaDecodeErr()
			_ = reader.CommitMessages(ctx, message)
			continue
		}
		if decoded.ChainID != chainID {
			slog.Warn("unexpected chain id on topic", "chain_id", decoded.ChainID)
		}

		messageCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
		if !trace.SpanContextFromContext(messageCtx).IsValid() && decoded.TraceID != "" {
			if ctxWithTrace, ok := telemetry.ContextWithTraceID(messageCtx, decoded.TraceID); ok {
				messageCtx = ctxWithTrace
			}
		}
		messageCtx, span := tracer.Start(messageCtx, "indexer.process_event", trace.WithSpanKind(trace.SpanKindConsumer))
		event := decoded.ToEvent()
		span.SetAttributes(
			attribute.String("event.kind", string(event.Kind)),
			attribute.Int64("chain.id", int64(event.ChainID)),
			attribute.String("event.tx_ref", domain.NormalizeRef(event.TxRef)),
			attribute.Int64("block.number", int64(event.BlockNumber)),
		)

		if err := reconciler.ProcessEvent(messageCtx, event); err != nil {
			slog.Error("event apply error", "err", err, "tx_ref", event.TxRef)
			metrics.IncKafkaApplyErr()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if audit != nil {
			if err := audit.StoreEvents(messageCtx, []domain.ChainEvent{event}); err != nil {
				slog.Warn("event audit write failed", "err", err, "tx_ref", event.TxRef)
			}
		}
		span.End()

		metrics.ObserveKafkaMessage(message.Topic, message.Offset, message.Time)
		if err := reader.CommitMessages(ctx, message); err != nil {
			slog.Error("kafka commit error", "err", err)
			metrics.IncKafkaCommitErr()
		}
	}
}
