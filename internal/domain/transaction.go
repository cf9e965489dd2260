package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Flow is the direction of a bridge transaction.
type Flow string

const (
	FlowOnramp  Flow = "onramp"
	FlowOfframp Flow = "offramp"
)

// Status is a transaction's position in its lifecycle. The set is closed;
// anything not listed here is rejected at the repository boundary.
type Status string

const (
	StatusCreated          Status = "created"
	StatusSigned           Status = "signed"
	StatusSubmittedOnchain Status = "submitted_onchain"
	StatusEventEmitted     Status = "event_emitted"
	StatusPayoutPending    Status = "payout_pending"
	StatusPayoutCompleted  Status = "payout_completed"
	StatusPayoutFailed     Status = "payout_failed"
	StatusCreditPending    Status = "credit_pending"
	StatusCredited         Status = "credited"
	StatusCreditFailed     Status = "credit_failed"
	StatusCancelled        Status = "cancelled"
)

// transitions lists the states reachable from each state. Transitions are
// forward only; a late duplicate event or retried confirmation cannot move a
// transaction backward.
var transitions = map[Status][]Status{
	StatusCreated:          {StatusSigned, StatusCreditPending, StatusCancelled},
	StatusSigned:           {StatusSubmittedOnchain, StatusEventEmitted, StatusCancelled},
	StatusSubmittedOnchain: {StatusEventEmitted},
	StatusEventEmitted:     {StatusPayoutPending, StatusPayoutFailed},
	StatusPayoutPending:    {StatusPayoutCompleted, StatusPayoutFailed},
	StatusCreditPending:    {StatusCredited, StatusCreditFailed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusSigned, StatusSubmittedOnchain, StatusEventEmitted,
		StatusPayoutPending, StatusPayoutCompleted, StatusPayoutFailed,
		StatusCreditPending, StatusCredited, StatusCreditFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusPayoutCompleted, StatusPayoutFailed, StatusCredited, StatusCreditFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether to is immediately reachable from from.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a user may still cancel. Once a transaction is
// on chain, the only way out is the recovery tool's fail path.
func (s Status) Cancellable() bool {
	return s == StatusCreated || s == StatusSigned
}

// FailedStatus is the terminal failure state for a flow, used by the recovery
// tool when an operator confirms a transaction dead.
func FailedStatus(flow Flow) Status {
	if flow == FlowOnramp {
		return StatusCreditFailed
	}
	return StatusPayoutFailed
}

// Metadata keys shared across the indexer, orchestrator and recovery tool.
// Anything that crosses a state-machine boundary is persisted here so the
// recovery tool has full context without external logs.
const (
	MetaPayoutID       = "payout_id"
	MetaBankCode       = "bank_code"
	MetaAccountNumber  = "account_number"
	MetaRetryAttempt   = "retry_attempt"
	MetaLastError      = "last_error"
	MetaFailReason     = "fail_reason"
	MetaVirtualAccount = "virtual_account"
	MetaVirtualBank    = "virtual_account_bank"
	MetaChargeID       = "charge_id"
	MetaCreditTxRef    = "credit_tx_ref"
)

// Transaction is the ledger's unit: one on-ramp or off-ramp settlement.
type Transaction struct {
	ID           string
	UserID       string
	Flow         Flow
	Status       Status
	Token        string
	AmountSource decimal.Decimal // crypto units
	AmountTarget decimal.Decimal // fiat units
	Reference    string          // unique; idempotency key for the fiat leg
	ChainTxRef   string          // raw on-chain ref as received, kept for audit
	ChainRefNorm string          // normalized form used for lookups
	Nonce        uint64
	LockedRate   decimal.Decimal // frozen at authorization, read-only after
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FiatAmount converts the source amount at the locked rate. Every downstream
// conversion for this transaction must go through here, never a live rate.
func (t Transaction) FiatAmount() decimal.Decimal {
	return t.AmountSource.Mul(t.LockedRate)
}

func (t Transaction) Meta(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[key]
}
