package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"rampbridge/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

type PayoutLedger interface {
	GetTransaction(ctx context.Context, id string) (domain.Transaction, bool, error)
	FindByReference(ctx context.Context, reference string) (domain.Transaction, bool, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	MergeMetadata(ctx context.Context, id string, meta map[string]string) error
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Transaction, error)
}

type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferSuccess TransferStatus = "success"
	TransferFailed  TransferStatus = "failed"
)

type TransferRequest struct {
	BankCode       string
	AccountNumber  string
	Amount         decimal.Decimal
	Currency       string
	Reference      string
	Narration      string
	IdempotencyKey string
}

type Transfer struct {
	ID            string
	Status        TransferStatus
	Reference     string
	Amount        decimal.Decimal
	FailureReason string
}

type ProcessorClient interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
	GetTransfer(ctx context.Context, id string) (Transfer, error)
	FindTransferByReference(ctx context.Context, reference string) (Transfer, bool, error)
}

type PayoutObserver interface {
	OnPayoutInitiated()
	OnPayoutRetry()
	OnPayoutCompleted()
	OnPayoutFailed()
}

type PayoutConfig struct {
	MinAmount      decimal.Decimal
	Currency       string
	MaxAttempts    int
	InitialBackoff time.Duration
}

// PayoutOrchestrator drives the fiat leg of an off-ramp. The transaction's
// reference doubles as the processor idempotency key, so a retried create is
// deduplicated processor-side no matter how many attempts it takes here.
type PayoutOrchestrator struct {
	ledger    PayoutLedger
	processor ProcessorClient
	observer  PayoutObserver
	cfg       PayoutConfig
}

func NewPayoutOrchestrator(ledger PayoutLedger, processor ProcessorClient, observer PayoutObserver, cfg PayoutConfig) (*PayoutOrchestrator, error) {
	if ledger == nil || processor == nil {
		return nil, errors.New("payout dependencies must not be nil")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	return &PayoutOrchestrator{ledger: ledger, processor: processor, observer: observer, cfg: cfg}, nil
}

// InitiatePayout converts a reconciled off-ramp record into a transfer
// instruction. The fiat amount always comes from the locked rate stored on
// the transaction; the live rate plays no part here or in recovery.
func (o *PayoutOrchestrator) InitiatePayout(ctx context.Context, tx domain.Transaction) error {
	if tx.Status != domain.StatusEventEmitted {
		return ErrNotReady
	}

	fiat := tx.FiatAmount()
	if fiat.LessThan(o.cfg.MinAmount) {
		// Below the floor: fail locally with a recorded reason, no external
		// call is ever made.
		reason := fmt.Sprintf("fiat amount %s below minimum payout %s", fiat, o.cfg.MinAmount)
		if err := o.failPayout(ctx, tx, reason); err != nil {
			return err
		}
		return ErrBelowMinimum
	}

	transfer, err := o.createWithRetry(ctx, tx, fiat)
	if err != nil {
		// A dead context is a shutdown, not a verdict on the payout; leave
		// the record for the next cycle.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if failErr := o.failPayout(ctx, tx, err.Error()); failErr != nil {
			return failErr
		}
		return err
	}

	if err := o.ledger.MergeMetadata(ctx, tx.ID, map[string]string{domain.MetaPayoutID: transfer.ID}); err != nil {
		return err
	}
	moved, err := o.ledger.UpdateStatus(ctx, tx.ID, domain.StatusEventEmitted, domain.StatusPayoutPending)
	if err != nil {
		return err
	}
	if moved && o.observer != nil {
		o.observer.OnPayoutInitiated()
	}
	slog.Info("payout initiated",
		"transaction", tx.ID, "reference", tx.Reference, "payout_id", transfer.ID, "amount", fiat)

	// A transfer recovered after a timeout may already be terminal.
	if transfer.Status != TransferPending {
		tx.Status = domain.StatusPayoutPending
		return o.applyTransfer(ctx, tx, transfer)
	}
	return nil
}

func (o *PayoutOrchestrator) createWithRetry(ctx context.Context, tx domain.Transaction, fiat decimal.Decimal) (Transfer, error) {
	req := TransferRequest{
		BankCode:       tx.Meta(domain.MetaBankCode),
		AccountNumber:  tx.Meta(domain.MetaAccountNumber),
		Amount:         fiat,
		Currency:       o.cfg.Currency,
		Reference:      tx.Reference,
		Narration:      "rampbridge payout " + tx.Reference,
		IdempotencyKey: tx.Reference,
	}

	attempt := 0
	operation := func() (Transfer, error) {
		attempt++
		if attempt > 1 {
			if err := o.ledger.MergeMetadata(ctx, tx.ID, map[string]string{
				domain.MetaRetryAttempt: strconv.Itoa(attempt - 1),
			}); err != nil {
				slog.Warn("retry metadata update failed", "transaction", tx.ID, "err", err)
			}
			if o.observer != nil {
				o.observer.OnPayoutRetry()
			}
			// The previous attempt may have landed despite a timeout; look
			// the transfer up by reference before creating again.
			if existing, found, err := o.processor.FindTransferByReference(ctx, tx.Reference); err == nil && found {
				return existing, nil
			}
		}
		transfer, err := o.processor.CreateTransfer(ctx, req)
		if err != nil {
			if !IsTemporary(err) {
				return Transfer{}, backoff.Permanent(err)
			}
			slog.Warn("transfer attempt failed",
				"transaction", tx.ID, "attempt", attempt, "err", err)
			return Transfer{}, err
		}
		return transfer, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.cfg.InitialBackoff
	return backoff.RetryWithData(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(o.cfg.MaxAttempts-1)), ctx))
}

// ConfirmPayout polls the processor for a pending transfer and applies the
// outcome. Webhook delivery lands on the same conditional transition, so
// poll and webhook can race safely.
func (o *PayoutOrchestrator) ConfirmPayout(ctx context.Context, tx domain.Transaction) error {
	if tx.Status != domain.StatusPayoutPending {
		return ErrNotReady
	}
	var (
		transfer Transfer
		err      error
	)
	if payoutID := tx.Meta(domain.MetaPayoutID); payoutID != "" {
		transfer, err = o.processor.GetTransfer(ctx, payoutID)
		if err != nil {
			return err
		}
	} else {
		var found bool
		transfer, found, err = o.processor.FindTransferByReference(ctx, tx.Reference)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
	}
	return o.applyTransfer(ctx, tx, transfer)
}

// ApplyTransferStatus is the webhook entrypoint: the processor tells us a
// transfer changed state and we map it onto the transaction it references.
func (o *PayoutOrchestrator) ApplyTransferStatus(ctx context.Context, transfer Transfer) error {
	if transfer.Reference == "" {
		return errors.New("transfer reference is required")
	}
	tx, ok, err := o.ledger.FindByReference(ctx, transfer.Reference)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if tx.Status.Terminal() {
		return nil
	}
	if tx.Status == domain.StatusEventEmitted {
		// The webhook beat our own initiation bookkeeping.
		if transfer.ID != "" {
			if err := o.ledger.MergeMetadata(ctx, tx.ID, map[string]string{domain.MetaPayoutID: transfer.ID}); err != nil {
				return err
			}
		}
		if _, err := o.ledger.UpdateStatus(ctx, tx.ID, domain.StatusEventEmitted, domain.StatusPayoutPending); err != nil {
			return err
		}
		tx.Status = domain.StatusPayoutPending
	}
	return o.applyTransfer(ctx, tx, transfer)
}

func (o *PayoutOrchestrator) applyTransfer(ctx context.Context, tx domain.Transaction, transfer Transfer) error {
	switch transfer.Status {
	case TransferSuccess:
		moved, err := o.ledger.UpdateStatus(ctx, tx.ID, domain.StatusPayoutPending, domain.StatusPayoutCompleted)
		if err != nil {
			return err
		}
		if moved {
			if o.observer != nil {
				o.observer.OnPayoutCompleted()
			}
			slog.Info("payout completed", "transaction", tx.ID, "reference", tx.Reference)
		}
		return nil
	case TransferFailed:
		reason := transfer.FailureReason
		if reason == "" {
			reason = "transfer failed"
		}
		if err := o.ledger.MergeMetadata(ctx, tx.ID, map[string]string{domain.MetaLastError: reason}); err != nil {
			return err
		}
		moved, err := o.ledger.UpdateStatus(ctx, tx.ID, domain.StatusPayoutPending, domain.StatusPayoutFailed)
		if err != nil {
			return err
		}
		if moved {
			if o.observer != nil {
				o.observer.OnPayoutFailed()
			}
			slog.Warn("payout failed", "transaction", tx.ID, "reference", tx.Reference, "reason", reason)
		}
		return nil
	default:
		return nil
	}
}

func (o *PayoutOrchestrator) failPayout(ctx context.Context, tx domain.Transaction, reason string) error {
	if err := o.ledger.MergeMetadata(ctx, tx.ID, map[string]string{
		domain.MetaLastError:  reason,
		domain.MetaFailReason: reason,
	}); err != nil {
		return err
	}
	moved, err := o.ledger.UpdateStatus(ctx, tx.ID, domain.StatusEventEmitted, domain.StatusPayoutFailed)
	if err != nil {
		return err
	}
	if moved {
		if o.observer != nil {
			o.observer.OnPayoutFailed()
		}
		slog.Warn("payout failed before transfer", "transaction", tx.ID, "reason", reason)
	}
	return nil
}

// Run periodically drives pending work: initiating payouts for reconciled
// records and confirming in-flight transfers.
func (o *PayoutOrchestrator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.drive(ctx)
		}
	}
}

func (o *PayoutOrchestrator) drive(ctx context.Context) {
	ready, err := o.ledger.ListByStatus(ctx, domain.StatusEventEmitted, 50)
	if err != nil {
		slog.Error("list ready payouts failed", "err", err)
	}
	for _, tx := range ready {
		if err := o.InitiatePayout(ctx, tx); err != nil && !errors.Is(err, ErrBelowMinimum) {
			slog.Error("initiate payout failed", "transaction", tx.ID, "err", err)
		}
	}

	pending, err := o.ledger.ListByStatus(ctx, domain.StatusPayoutPending, 50)
	if err != nil {
		slog.Error("list pending payouts failed", "err", err)
	}
	for _, tx := range pending {
		if err := o.ConfirmPayout(ctx, tx); err != nil {
			slog.Error("confirm payout failed", "transaction", tx.ID, "err", err)
		}
	}
}
