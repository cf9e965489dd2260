package application

import (
	"context"
	"errors"
	"fmt"
)

// Validation and lifecycle errors. Handlers map these to specific 4xx
// responses; nothing user-facing ever surfaces as a bare internal error.
var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrUnknownToken        = errors.New("unsupported token")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("amount below minimum payout")
	ErrNotFound            = errors.New("transaction not found")
	ErrNotCancellable      = errors.New("transaction can no longer be cancelled")
	ErrNotReady            = errors.New("transaction not ready for payout")
	ErrNotResumable        = errors.New("transaction cannot be resumed from its current state")
	ErrTerminal            = errors.New("transaction already in a terminal state")
	ErrStatusConflict      = errors.New("transaction status changed concurrently")
)

// ProcessorError is a rejection from the payments processor. 5xx and
// throttling are retryable; anything else means the processor understood the
// request and said no.
type ProcessorError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProcessorError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("processor error %d: %s", e.StatusCode, e.Message)
}

func (e *ProcessorError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408
}

// IsTemporary classifies an error from an external call for retry purposes.
// A timeout is never treated as a definitive failure: the caller reconciles
// via the idempotency key on the next attempt instead. Unclassified
// transport failures are retried for the same reason.
func IsTemporary(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var procErr *ProcessorError
	if errors.As(err, &procErr) {
		return procErr.Temporary()
	}
	return true
}
