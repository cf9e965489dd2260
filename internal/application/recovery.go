package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rampbridge/internal/domain"
)

type RecoveryLedger interface {
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (domain.Transaction, bool, error)
	// ForceStatus moves a non-terminal transaction to a terminal failure
	// state regardless of the transition table. Only the recovery fail path
	// may use it; everything else goes through UpdateStatus.
	ForceStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	MergeMetadata(ctx context.Context, id string, meta map[string]string) error
}

// DepositConfirmer re-checks a pending fiat charge against the processor.
type DepositConfirmer interface {
	ConfirmDeposit(ctx context.Context, tx domain.Transaction) error
}

// Recovery is the operator-facing path for transactions stranded by partial
// failures. It re-drives the regular orchestrator so every invariant, the
// locked rate, the reference, the idempotency key, is the stored one, never
// recomputed.
type Recovery struct {
	ledger    RecoveryLedger
	payouts   *PayoutOrchestrator
	deposits  DepositConfirmer
	threshold time.Duration
	now       func() time.Time
}

// NewRecovery builds the operator recovery path. deposits may be nil, in
// which case on-ramp records are not resumable.
func NewRecovery(ledger RecoveryLedger, payouts *PayoutOrchestrator, deposits DepositConfirmer, threshold time.Duration) (*Recovery, error) {
	if ledger == nil || payouts == nil {
		return nil, errors.New("recovery dependencies must not be nil")
	}
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	return &Recovery{ledger: ledger, payouts: payouts, deposits: deposits, threshold: threshold, now: time.Now}, nil
}

// Scan lists transactions resident in a non-terminal state beyond the age
// threshold.
func (r *Recovery) Scan(ctx context.Context) ([]domain.Transaction, error) {
	return r.ledger.ListStuck(ctx, r.now().Add(-r.threshold), 200)
}

// Resume re-drives the payout for a stuck transaction. Records still waiting
// on the chain leg are not resumable from here; the indexer owns those.
func (r *Recovery) Resume(ctx context.Context, id string) error {
	tx, ok, err := r.ledger.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if tx.Status.Terminal() {
		return ErrTerminal
	}
	switch tx.Status {
	case domain.StatusEventEmitted:
		return r.payouts.InitiatePayout(ctx, tx)
	case domain.StatusPayoutPending:
		return r.payouts.ConfirmPayout(ctx, tx)
	case domain.StatusCreditPending:
		if r.deposits == nil {
			return ErrNotResumable
		}
		return r.deposits.ConfirmDeposit(ctx, tx)
	default:
		return ErrNotResumable
	}
}

// Fail is the sanctioned way to kill a post-submission transaction. The
// operator reason lands in metadata so the audit trail is self-contained.
func (r *Recovery) Fail(ctx context.Context, id, reason string) error {
	if reason == "" {
		return errors.New("a reason is required to fail a transaction")
	}
	tx, ok, err := r.ledger.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if tx.Status.Terminal() {
		return ErrTerminal
	}
	if err := r.ledger.MergeMetadata(ctx, id, map[string]string{domain.MetaFailReason: reason}); err != nil {
		return err
	}
	moved, err := r.ledger.ForceStatus(ctx, id, tx.Status, domain.FailedStatus(tx.Flow))
	if err != nil {
		return err
	}
	if !moved {
		return ErrStatusConflict
	}
	slog.Warn("transaction failed by operator", "transaction", id, "from", tx.Status, "reason", reason)
	return nil
}
