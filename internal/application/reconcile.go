package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rampbridge/internal/domain"
)

type ReconcileLedger interface {
	FindByChainRef(ctx context.Context, normRef string) (domain.Transaction, bool, error)
	FindByReference(ctx context.Context, reference string) (domain.Transaction, bool, error)
	FindByUserNonce(ctx context.Context, userID string, nonce uint64) (domain.Transaction, bool, error)
	SetChainRef(ctx context.Context, id, raw, norm string) error
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	MergeMetadata(ctx context.Context, id string, meta map[string]string) error
	InsertOrphan(ctx context.Context, ev domain.ChainEvent) error
	ListOrphans(ctx context.Context, limit int) ([]domain.OrphanEvent, error)
	MarkOrphanResolved(ctx context.Context, id int64) error
	BumpOrphanAttempt(ctx context.Context, id int64) (int, error)
	MarkOrphanAlerted(ctx context.Context, id int64) error
}

type ReconcileObserver interface {
	OnEventMatched(kind domain.EventKind)
	OnEventOrphaned(kind domain.EventKind)
	OnOrphanAlert(id int64, attempts int)
}

// Reconciler resolves chain events to ledger records. Matching is keyed, so
// unrelated events can be processed concurrently; all state effects go
// through conditional updates so stream replays cannot regress a record.
type Reconciler struct {
	ledger      ReconcileLedger
	observer    ReconcileObserver
	maxAttempts int
}

func NewReconciler(ledger ReconcileLedger, observer ReconcileObserver, maxAttempts int) (*Reconciler, error) {
	if ledger == nil {
		return nil, errors.New("reconcile ledger must not be nil")
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Reconciler{ledger: ledger, observer: observer, maxAttempts: maxAttempts}, nil
}

// ProcessEvent matches one event against the ledger. A miss records an
// orphan for later retry; it is not an error.
func (r *Reconciler) ProcessEvent(ctx context.Context, ev domain.ChainEvent) error {
	tx, ok, err := r.match(ctx, ev)
	if err != nil {
		return err
	}
	if !ok {
		if err := r.ledger.InsertOrphan(ctx, ev); err != nil {
			return fmt.Errorf("record orphan: %w", err)
		}
		slog.Warn("chain event did not match any transaction",
			"kind", ev.Kind, "tx_ref", ev.TxRef, "user", ev.User, "nonce", ev.Nonce)
		if r.observer != nil {
			r.observer.OnEventOrphaned(ev.Kind)
		}
		return nil
	}
	if err := r.apply(ctx, tx, ev); err != nil {
		return err
	}
	if r.observer != nil {
		r.observer.OnEventMatched(ev.Kind)
	}
	return nil
}

// match applies the matching algorithm in order, first match wins:
// normalized ref equality, then the reference embedded in the payload, then
// the (user, nonce) pair. Textual ref formats diverge between the chain
// client and the feed, which is what the fallbacks are for.
func (r *Reconciler) match(ctx context.Context, ev domain.ChainEvent) (domain.Transaction, bool, error) {
	if norm := domain.NormalizeRef(ev.TxRef); norm != "" {
		tx, ok, err := r.ledger.FindByChainRef(ctx, norm)
		if err != nil {
			return domain.Transaction{}, false, err
		}
		if ok {
			return tx, true, nil
		}
	}
	if ev.WithdrawalID != "" {
		tx, ok, err := r.ledger.FindByReference(ctx, domain.NormalizeRef(ev.WithdrawalID))
		if err != nil {
			return domain.Transaction{}, false, err
		}
		if ok {
			return tx, true, nil
		}
	}
	if ev.User != "" && ev.Nonce > 0 {
		tx, ok, err := r.ledger.FindByUserNonce(ctx, strings.ToLower(ev.User), ev.Nonce)
		if err != nil {
			return domain.Transaction{}, false, err
		}
		if ok {
			return tx, true, nil
		}
	}
	return domain.Transaction{}, false, nil
}

func (r *Reconciler) apply(ctx context.Context, tx domain.Transaction, ev domain.ChainEvent) error {
	// Keep the raw ref exactly as received for audit; the normalized form is
	// what future lookups key on. First write wins.
	if tx.ChainRefNorm == "" && ev.TxRef != "" {
		if err := r.ledger.SetChainRef(ctx, tx.ID, ev.TxRef, domain.NormalizeRef(ev.TxRef)); err != nil {
			return fmt.Errorf("store chain ref: %w", err)
		}
	}

	if tx.Flow == domain.FlowOnramp {
		// The chain leg of an on-ramp is the mirrored crypto credit; status
		// is driven by the fiat leg. Record the ref and move on.
		return r.ledger.MergeMetadata(ctx, tx.ID, map[string]string{
			domain.MetaCreditTxRef: ev.TxRef,
		})
	}

	switch tx.Status {
	case domain.StatusSigned, domain.StatusSubmittedOnchain:
		moved, err := r.ledger.UpdateStatus(ctx, tx.ID, tx.Status, domain.StatusEventEmitted)
		if err != nil {
			return err
		}
		if !moved {
			// Concurrent processor or replayed event already advanced it.
			slog.Debug("event transition skipped, status already advanced", "transaction", tx.ID)
		}
		return nil
	default:
		// Replayed event for a record at or past event_emitted: no regression,
		// no duplicate transition.
		return nil
	}
}

// RetryOrphans re-runs matching for recorded orphans. Records that exceed
// the attempt bound are flagged once as an operator alert.
func (r *Reconciler) RetryOrphans(ctx context.Context) error {
	orphans, err := r.ledger.ListOrphans(ctx, 100)
	if err != nil {
		return err
	}
	for _, orphan := range orphans {
		tx, ok, err := r.match(ctx, orphan.Event)
		if err != nil {
			slog.Error("orphan match error", "orphan", orphan.ID, "err", err)
			continue
		}
		if ok {
			if err := r.apply(ctx, tx, orphan.Event); err != nil {
				slog.Error("orphan apply error", "orphan", orphan.ID, "err", err)
				continue
			}
			if err := r.ledger.MarkOrphanResolved(ctx, orphan.ID); err != nil {
				return err
			}
			if r.observer != nil {
				r.observer.OnEventMatched(orphan.Event.Kind)
			}
			slog.Info("orphan event resolved", "orphan", orphan.ID, "transaction", tx.ID)
			continue
		}
		attempts, err := r.ledger.BumpOrphanAttempt(ctx, orphan.ID)
		if err != nil {
			return err
		}
		if attempts >= r.maxAttempts && !orphan.Alerted {
			if err := r.ledger.MarkOrphanAlerted(ctx, orphan.ID); err != nil {
				return err
			}
			if r.observer != nil {
				r.observer.OnOrphanAlert(orphan.ID, attempts)
			}
			slog.Error("orphan event exhausted matching attempts, operator review required",
				"orphan", orphan.ID,
				"attempts", attempts,
				"tx_ref", orphan.Event.TxRef,
				"kind", orphan.Event.Kind,
			)
		}
	}
	return nil
}

// RunOrphanRetry drives RetryOrphans on a cadence until the context ends.
func (r *Reconciler) RunOrphanRetry(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RetryOrphans(ctx); err != nil {
				slog.Error("orphan retry pass failed", "err", err)
			}
		}
	}
}
