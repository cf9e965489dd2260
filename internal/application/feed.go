package application

import (
	"context"
	"errors"
	"time"

	"rampbridge/internal/domain"
)

type EventSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FetchEvents(ctx context.Context, fromBlock, toBlock uint64) ([]domain.ChainEvent, error)
	ChainID(ctx context.Context) (uint64, error)
}

type CursorStore interface {
	LastProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error)
	SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error
}

type EventPublisher interface {
	PublishEvents(ctx context.Context, events []domain.ChainEvent) error
}

type FeedObserver interface {
	OnLatestBlock(block uint64)
	OnBatchProcessed(fromBlock, toBlock uint64, eventCount int)
}

type FeedConfig struct {
	StartBlock    uint64
	Confirmations uint64
	BatchSize     uint64
	PollInterval  time.Duration
}

// Feed tails the contract's event stream and republishes decoded events.
// The cursor is persisted after each batch, so a restart resumes from the
// last processed block.
type Feed struct {
	source   EventSource
	writer   EventPublisher
	cursor   CursorStore
	observer FeedObserver
	cfg      FeedConfig
}

func NewFeed(source EventSource, writer EventPublisher, cursor CursorStore, observer FeedObserver, cfg FeedConfig) (*Feed, error) {
	if source == nil || writer == nil || cursor == nil {
		return nil, errors.New("feed dependencies must not be nil")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Feed{source: source, writer: writer, cursor: cursor, observer: observer, cfg: cfg}, nil
}

func (f *Feed) Run(ctx context.Context) error {
	chainID, err := f.source.ChainID(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var current uint64
		if last, ok, err := f.cursor.LastProcessedBlock(ctx, chainID); err != nil {
			return err
		} else if ok {
			current = last + 1
		} else {
			current = f.cfg.StartBlock
		}

		latest, err := f.source.LatestBlockNumber(ctx)
		if err != nil {
			return err
		}
		if f.observer != nil {
			f.observer.OnLatestBlock(latest)
		}
		if latest < f.cfg.Confirmations {
			latest = 0
		} else {
			latest -= f.cfg.Confirmations
		}

		if current > latest {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.cfg.PollInterval):
				continue
			}
		}

		toBlock := current + f.cfg.BatchSize - 1
		if toBlock > latest {
			toBlock = latest
		}

		events, err := f.source.FetchEvents(ctx, current, toBlock)
		if err != nil {
			return err
		}
		if err := f.writer.PublishEvents(ctx, events); err != nil {
			return err
		}
		if err := f.cursor.SetLastProcessedBlock(ctx, chainID, toBlock); err != nil {
			return err
		}
		if f.observer != nil {
			f.observer.OnBatchProcessed(current, toBlock, len(events))
		}
	}
}
