package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rampbridge/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepositLedger interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindByReference(ctx context.Context, reference string) (domain.Transaction, bool, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) (bool, error)
	MergeMetadata(ctx context.Context, id string, meta map[string]string) error
	// CreditAndTransition commits the status move and the balance credit
	// atomically; a failed credit leaves the record in its previous status
	// so a redelivered webhook can retry.
	CreditAndTransition(ctx context.Context, id string, from, to domain.Status, userID, token string, amount decimal.Decimal) (bool, error)
}

type VirtualAccountRequest struct {
	Reference  string
	CustomerID string
	Amount     decimal.Decimal
	Currency   string
	Expiry     time.Duration
}

type VirtualAccount struct {
	AccountNumber string
	BankName      string
	Reference     string
	ExpiresAt     time.Time
}

type ChargeStatus string

const (
	ChargeSettled ChargeStatus = "settled"
	ChargePending ChargeStatus = "pending"
	ChargeFailed  ChargeStatus = "failed"
)

type Charge struct {
	ID            string
	Reference     string
	Status        ChargeStatus
	FailureReason string
}

type DepositProcessor interface {
	CreateVirtualAccount(ctx context.Context, req VirtualAccountRequest) (VirtualAccount, error)
	VerifyCharge(ctx context.Context, chargeID string) (Charge, error)
}

type DepositConfig struct {
	BaseCurrency  string
	QuoteCurrency string
	Expiry        time.Duration
	Tokens        []string
}

// DepositService handles the on-ramp mirror: a fiat deposit against a
// virtual account is matched to a ledger record and answered with a crypto
// credit at the rate locked when the deposit was initiated.
type DepositService struct {
	ledger    DepositLedger
	processor DepositProcessor
	rates     RateProvider
	cfg       DepositConfig
	tokens    map[string]struct{}
}

func NewDepositService(ledger DepositLedger, processor DepositProcessor, rates RateProvider, cfg DepositConfig) (*DepositService, error) {
	if ledger == nil || processor == nil || rates == nil {
		return nil, errors.New("deposit dependencies must not be nil")
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "USD"
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "NGN"
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = time.Hour
	}
	tokens := make(map[string]struct{}, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		tokens[strings.ToUpper(strings.TrimSpace(token))] = struct{}{}
	}
	return &DepositService{ledger: ledger, processor: processor, rates: rates, cfg: cfg, tokens: tokens}, nil
}

type DepositInput struct {
	UserID     string
	Token      string
	FiatAmount decimal.Decimal
}

type DepositResult struct {
	TransactionID  string
	Reference      string
	LockedRate     decimal.Decimal
	CryptoAmount   decimal.Decimal
	VirtualAccount VirtualAccount
}

func (s *DepositService) InitiateDeposit(ctx context.Context, in DepositInput) (DepositResult, error) {
	if !in.FiatAmount.IsPositive() {
		return DepositResult{}, ErrInvalidAmount
	}
	token := strings.ToUpper(strings.TrimSpace(in.Token))
	if _, ok := s.tokens[token]; !ok {
		return DepositResult{}, ErrUnknownToken
	}

	rate, err := s.rates.Rate(ctx, s.cfg.BaseCurrency, s.cfg.QuoteCurrency)
	if err != nil {
		return DepositResult{}, fmt.Errorf("lock rate: %w", err)
	}
	crypto := in.FiatAmount.Div(rate)

	reference := NewReference()
	tx := &domain.Transaction{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		Flow:         domain.FlowOnramp,
		Status:       domain.StatusCreated,
		Token:        token,
		AmountSource: crypto,
		AmountTarget: in.FiatAmount,
		Reference:    reference,
		LockedRate:   rate,
		Metadata:     map[string]string{},
	}
	if err := s.ledger.CreateTransaction(ctx, tx); err != nil {
		return DepositResult{}, fmt.Errorf("create transaction: %w", err)
	}

	account, err := s.processor.CreateVirtualAccount(ctx, VirtualAccountRequest{
		Reference:  reference,
		CustomerID: in.UserID,
		Amount:     in.FiatAmount,
		Currency:   s.cfg.QuoteCurrency,
		Expiry:     s.cfg.Expiry,
	})
	if err != nil {
		if metaErr := s.ledger.MergeMetadata(ctx, tx.ID, map[string]string{domain.MetaLastError: err.Error()}); metaErr != nil {
			slog.Warn("deposit error metadata update failed", "transaction", tx.ID, "err", metaErr)
		}
		if _, casErr := s.ledger.UpdateStatus(ctx, tx.ID, domain.StatusCreated, domain.StatusCancelled); casErr != nil {
			slog.Error("deposit cancel after account failure failed", "transaction", tx.ID, "err", casErr)
		}
		return DepositResult{}, fmt.Errorf("create virtual account: %w", err)
	}

	if err := s.ledger.MergeMetadata(ctx, tx.ID, map[string]string{
		domain.MetaVirtualAccount: account.AccountNumber,
		domain.MetaVirtualBank:    account.BankName,
	}); err != nil {
		return DepositResult{}, err
	}
	if _, err := s.ledger.UpdateStatus(ctx, tx.ID, domain.StatusCreated, domain.StatusCreditPending); err != nil {
		return DepositResult{}, err
	}

	slog.Info("deposit initiated",
		"transaction", tx.ID, "user", in.UserID, "fiat", in.FiatAmount, "rate", rate, "reference", reference)
	return DepositResult{
		TransactionID:  tx.ID,
		Reference:      reference,
		LockedRate:     rate,
		CryptoAmount:   crypto,
		VirtualAccount: account,
	}, nil
}

// ApplyChargeStatus lands the fiat-leg outcome on the ledger. The credit is
// applied exactly once because it rides on the conditional transition.
func (s *DepositService) ApplyChargeStatus(ctx context.Context, charge Charge) error {
	if charge.Reference == "" {
		return errors.New("charge reference is required")
	}
	tx, ok, err := s.ledger.FindByReference(ctx, charge.Reference)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if tx.Status.Terminal() {
		return nil
	}

	switch charge.Status {
	case ChargeSettled:
		// The status move and the mirrored crypto credit commit together; a
		// transaction can only become credited with the balance credited too.
		moved, err := s.ledger.CreditAndTransition(ctx, tx.ID,
			domain.StatusCreditPending, domain.StatusCredited, tx.UserID, tx.Token, tx.AmountSource)
		if err != nil {
			return fmt.Errorf("credit deposit: %w", err)
		}
		if !moved {
			return nil
		}
		if err := s.ledger.MergeMetadata(ctx, tx.ID, map[string]string{domain.MetaChargeID: charge.ID}); err != nil {
			return err
		}
		slog.Info("deposit credited", "transaction", tx.ID, "user", tx.UserID, "amount", tx.AmountSource)
		return nil
	case ChargeFailed:
		reason := charge.FailureReason
		if reason == "" {
			reason = "charge failed"
		}
		if err := s.ledger.MergeMetadata(ctx, tx.ID, map[string]string{domain.MetaFailReason: reason}); err != nil {
			return err
		}
		if _, err := s.ledger.UpdateStatus(ctx, tx.ID, domain.StatusCreditPending, domain.StatusCreditFailed); err != nil {
			return err
		}
		slog.Warn("deposit failed", "transaction", tx.ID, "reason", reason)
		return nil
	case ChargePending:
		// Remember the charge id so ConfirmDeposit can poll for the outcome
		// if the settled webhook never arrives.
		if charge.ID != "" && tx.Meta(domain.MetaChargeID) == "" {
			return s.ledger.MergeMetadata(ctx, tx.ID, map[string]string{domain.MetaChargeID: charge.ID})
		}
		return nil
	default:
		return nil
	}
}

// ConfirmDeposit polls the processor for a pending charge and applies the
// outcome through the same conditional transition as the webhook. Without a
// stored charge id there is nothing to verify yet.
func (s *DepositService) ConfirmDeposit(ctx context.Context, tx domain.Transaction) error {
	if tx.Status != domain.StatusCreditPending {
		return ErrNotReady
	}
	chargeID := tx.Meta(domain.MetaChargeID)
	if chargeID == "" {
		return nil
	}
	charge, err := s.processor.VerifyCharge(ctx, chargeID)
	if err != nil {
		return err
	}
	if charge.Reference == "" {
		charge.Reference = tx.Reference
	}
	return s.ApplyChargeStatus(ctx, charge)
}
