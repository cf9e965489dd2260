package application

import (
	"context"
	"errors"
	"log/slog"

	"rampbridge/internal/domain"

	"github.com/shopspring/decimal"
)

type TransactionLedger interface {
	GetTransaction(ctx context.Context, id string) (domain.Transaction, bool, error)
	FindByReference(ctx context.Context, reference string) (domain.Transaction, bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Transaction, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	SetChainRef(ctx context.Context, id, raw, norm string) error
	MergeMetadata(ctx context.Context, id string, meta map[string]string) error
	CreditAndTransition(ctx context.Context, id string, from, to domain.Status, userID, token string, amount decimal.Decimal) (bool, error)
}

// TransactionService serves ledger queries and the pre-submission cancel
// path for the API.
type TransactionService struct {
	ledger TransactionLedger
}

func NewTransactionService(ledger TransactionLedger) (*TransactionService, error) {
	if ledger == nil {
		return nil, errors.New("transaction ledger must not be nil")
	}
	return &TransactionService{ledger: ledger}, nil
}

func (s *TransactionService) Get(ctx context.Context, id string) (domain.Transaction, error) {
	tx, ok, err := s.ledger.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !ok {
		return domain.Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (s *TransactionService) GetByReference(ctx context.Context, reference string) (domain.Transaction, error) {
	tx, ok, err := s.ledger.FindByReference(ctx, reference)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !ok {
		return domain.Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (s *TransactionService) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.ledger.ListByUser(ctx, userID, limit)
}

func (s *TransactionService) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Transaction, error) {
	if !status.Valid() {
		return nil, errors.New("unknown status")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.ledger.ListByStatus(ctx, status, limit)
}

// MarkSubmitted records the client's report that the signed authorization
// went on chain. The ref is stored raw for audit and normalized for the
// indexer's lookups; the indexer tolerates the client and the feed spelling
// it differently.
func (s *TransactionService) MarkSubmitted(ctx context.Context, id, chainRef string) error {
	tx, ok, err := s.ledger.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if tx.Status != domain.StatusSigned {
		if domain.RefsEqual(tx.ChainTxRef, chainRef) {
			return nil
		}
		return ErrStatusConflict
	}
	if domain.NormalizeRef(chainRef) == "" {
		return errors.New("chain tx ref is required")
	}
	if err := s.ledger.SetChainRef(ctx, id, chainRef, domain.NormalizeRef(chainRef)); err != nil {
		return err
	}
	if _, err := s.ledger.UpdateStatus(ctx, id, domain.StatusSigned, domain.StatusSubmittedOnchain); err != nil {
		return err
	}
	return nil
}

// Cancel is permitted only before on-chain submission. A cancelled off-ramp
// returns the debited balance; anything later must go through the recovery
// tool's fail path.
func (s *TransactionService) Cancel(ctx context.Context, id string) error {
	tx, ok, err := s.ledger.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if !tx.Status.Cancellable() {
		return ErrNotCancellable
	}
	var moved bool
	if tx.Flow == domain.FlowOfframp && tx.Status == domain.StatusSigned {
		// The cancel and the refund commit together; a failed refund leaves
		// the record cancellable so the caller can retry.
		moved, err = s.ledger.CreditAndTransition(ctx, id,
			tx.Status, domain.StatusCancelled, tx.UserID, tx.Token, tx.AmountSource)
	} else {
		moved, err = s.ledger.UpdateStatus(ctx, id, tx.Status, domain.StatusCancelled)
	}
	if err != nil {
		return err
	}
	if !moved {
		return ErrStatusConflict
	}
	slog.Info("transaction cancelled", "transaction", id, "from", tx.Status)
	return nil
}
