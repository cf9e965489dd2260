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

type AuthorizeLedger interface {
	NextNonce(ctx context.Context, userID string) (uint64, error)
	Balance(ctx context.Context, userID, token string) (decimal.Decimal, error)
	// DebitAndCreate commits the balance debit and the new ledger record
	// atomically; either both land or neither does.
	DebitAndCreate(ctx context.Context, tx *domain.Transaction) error
}

type RateProvider interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

type Signer interface {
	Sign(req domain.WithdrawalRequest) (domain.Signature, error)
}

type AuthorizeConfig struct {
	BaseCurrency  string
	QuoteCurrency string
	MinPayout     decimal.Decimal
	Tokens        []string
}

// AuthorizeService is the signing authority: it turns a withdrawal intent
// into a signed on-chain authorization and a ledger record in `signed` state.
type AuthorizeService struct {
	ledger AuthorizeLedger
	rates  RateProvider
	signer Signer
	cfg    AuthorizeConfig
	tokens map[string]struct{}
	now    func() time.Time
}

func NewAuthorizeService(ledger AuthorizeLedger, rates RateProvider, signer Signer, cfg AuthorizeConfig) (*AuthorizeService, error) {
	if ledger == nil || rates == nil || signer == nil {
		return nil, errors.New("authorize dependencies must not be nil")
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "USD"
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "NGN"
	}
	tokens := make(map[string]struct{}, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		tokens[strings.ToUpper(strings.TrimSpace(token))] = struct{}{}
	}
	return &AuthorizeService{
		ledger: ledger,
		rates:  rates,
		signer: signer,
		cfg:    cfg,
		tokens: tokens,
		now:    time.Now,
	}, nil
}

type AuthorizeInput struct {
	UserID        string
	Token         string
	Amount        decimal.Decimal
	BankCode      string
	AccountNumber string
}

type AuthorizeResult struct {
	TransactionID string
	Request       domain.WithdrawalRequest
	Signature     domain.Signature
	LockedRate    decimal.Decimal
	FiatAmount    decimal.Decimal
}

// Authorize validates the intent, locks the current rate, assigns the next
// nonce for the user and signs the canonical request. The rate is locked
// before the minimum-amount check so the check and the payout use the same
// figure. Nothing external is called here; the only side effects are the
// balance debit and the ledger record.
func (s *AuthorizeService) Authorize(ctx context.Context, in AuthorizeInput) (AuthorizeResult, error) {
	if !in.Amount.IsPositive() {
		return AuthorizeResult{}, ErrInvalidAmount
	}
	token := strings.ToUpper(strings.TrimSpace(in.Token))
	if _, ok := s.tokens[token]; !ok {
		return AuthorizeResult{}, ErrUnknownToken
	}

	balance, err := s.ledger.Balance(ctx, in.UserID, token)
	if err != nil {
		return AuthorizeResult{}, fmt.Errorf("read balance: %w", err)
	}
	if balance.LessThan(in.Amount) {
		return AuthorizeResult{}, ErrInsufficientBalance
	}

	rate, err := s.rates.Rate(ctx, s.cfg.BaseCurrency, s.cfg.QuoteCurrency)
	if err != nil {
		return AuthorizeResult{}, fmt.Errorf("lock rate: %w", err)
	}
	fiat := in.Amount.Mul(rate)
	if fiat.LessThan(s.cfg.MinPayout) {
		return AuthorizeResult{}, ErrBelowMinimum
	}

	nonce, err := s.ledger.NextNonce(ctx, in.UserID)
	if err != nil {
		return AuthorizeResult{}, fmt.Errorf("assign nonce: %w", err)
	}

	reference := NewReference()
	request := domain.WithdrawalRequest{
		User:      in.UserID,
		Amount:    in.Amount,
		Token:     token,
		Reference: reference,
		Nonce:     nonce,
		Timestamp: s.now().Unix(),
	}
	signature, err := s.signer.Sign(request)
	if err != nil {
		return AuthorizeResult{}, fmt.Errorf("sign withdrawal: %w", err)
	}

	tx := &domain.Transaction{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		Flow:         domain.FlowOfframp,
		Status:       domain.StatusSigned,
		Token:        token,
		AmountSource: in.Amount,
		AmountTarget: fiat,
		Reference:    reference,
		Nonce:        nonce,
		LockedRate:   rate,
		Metadata: map[string]string{
			domain.MetaBankCode:      in.BankCode,
			domain.MetaAccountNumber: in.AccountNumber,
		},
	}
	if err := s.ledger.DebitAndCreate(ctx, tx); err != nil {
		return AuthorizeResult{}, err
	}

	slog.Info("withdrawal authorized",
		"transaction", tx.ID,
		"user", in.UserID,
		"token", token,
		"amount", in.Amount,
		"rate", rate,
		"nonce", nonce,
		"reference", reference,
	)
	return AuthorizeResult{
		TransactionID: tx.ID,
		Request:       request,
		Signature:     signature,
		LockedRate:    rate,
		FiatAmount:    fiat,
	}, nil
}

// NewReference returns a globally unique 32-char hex reference. The hex form
// fits a single 32-byte event word, which is what lets the indexer fall back
// to matching on the reference embedded in event payloads.
func NewReference() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}
