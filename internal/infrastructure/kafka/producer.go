package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rampbridge/internal/domain"
	"rampbridge/internal/infrastructure/telemetry"
	"rampbridge/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Producer publishes decoded chain events onto the per-chain event topics.
// Messages are keyed by tx ref so all logs of one chain transaction land on
// one partition in order.
type Producer struct {
	writer *kafka.Writer
	prefix string
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		cfg.TopicPrefix = "rampbridge-events"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 500 * time.Millisecond,
	}
	return &Producer{writer: writer, prefix: cfg.TopicPrefix}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishEvents(ctx context.Context, events []domain.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}
	tracer := otel.Tracer("rampbridge/kafka")
	messages := make([]kafka.Message, 0, len(events))
	spans := make([]trace.Span, 0, len(events))
	for _, event := range events {
		traceID, traceIDHex, ok := telemetry.NewTraceID()
		if !ok {
			traceIDHex = ""
		}
		traceCtx := ctx
		if ok {
			if spanCtx, ok := telemetry.NewSpanContext(traceID); ok {
				traceCtx = trace.ContextWithSpanContext(ctx, spanCtx)
			}
		}
		traceCtx, span := tracer.Start(traceCtx, "chainfeed.publish_event", trace.WithSpanKind(trace.SpanKindProducer))
		span.SetAttributes(
			attribute.Int64("chain.id", int64(event.ChainID)),
			attribute.Int64("block.number", int64(event.BlockNumber)),
			attribute.Int64("log.index", int64(event.LogIndex)),
			attribute.String("tx.ref", event.TxRef),
			attribute.String("event.kind", string(event.Kind)),
		)

		payload, err := streaming.Encode(streaming.FromEvent(event, traceIDHex))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return err
		}
		headers := make([]kafka.Header, 0, 2)
		telemetry.InjectKafkaHeaders(traceCtx, &headers)
		messages = append(messages, kafka.Message{
			Topic:   p.topicForChain(event.ChainID),
			Key:     []byte(domain.NormalizeRef(event.TxRef)),
			Value:   payload,
			Headers: headers,
		})
		spans = append(spans, span)
	}
	err := p.writer.WriteMessages(ctx, messages...)
	if err != nil {
		for _, span := range spans {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	for _, span := range spans {
		span.End()
	}
	return err
}

func (p *Producer) topicForChain(chainID uint64) string {
	return fmt.Sprintf("%s-%d", p.prefix, chainID)
}
