package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"rampbridge/internal/domain"

	"github.com/shopspring/decimal"
)

func newRecovery(t *testing.T, ledger *memLedger, processor ProcessorClient) *Recovery {
	t.Helper()
	orch := newPayoutOrchestrator(t, ledger, processor, nil)
	rec, err := NewRecovery(ledger, orch, nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("NewRecovery: %v", err)
	}
	return rec
}

func TestScanListsOnlyAgedNonTerminal(t *testing.T) {
	ledger := newMemLedger()
	now := time.Now()

	stale := seedReady(ledger, "stale")
	stale.UpdatedAt = now.Add(-2 * time.Hour)
	fresh := seedReady(ledger, "fresh")
	fresh.UpdatedAt = now.Add(-time.Minute)
	done := seedReady(ledger, "done")
	done.Status = domain.StatusPayoutCompleted
	done.UpdatedAt = now.Add(-2 * time.Hour)

	rec := newRecovery(t, ledger, newScriptedProcessor())
	rec.now = func() time.Time { return now }

	stuck, err := rec.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "stale" {
		t.Fatalf("Scan returned %d records, want only the stale one", len(stuck))
	}
}

func TestResumeReusesStoredRateAndReference(t *testing.T) {
	ledger := newMemLedger()
	tx := seedReady(ledger, "t1")
	tx.LockedRate = decimal.NewFromInt(1500)
	tx.UpdatedAt = time.Now().Add(-time.Hour)
	processor := newScriptedProcessor()
	rec := newRecovery(t, ledger, processor)

	if err := rec.Resume(context.Background(), "t1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	transfer, ok, _ := processor.FindTransferByReference(context.Background(), tx.Reference)
	if !ok {
		t.Fatal("resume created no transfer")
	}
	if !transfer.Amount.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("transfer amount = %s, want 15000 from the rate locked at authorization", transfer.Amount)
	}
	got := ledger.get("t1")
	if !got.LockedRate.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("locked rate changed during resume: %s", got.LockedRate)
	}
	if got.Status != domain.StatusPayoutPending {
		t.Errorf("status = %s, want payout_pending", got.Status)
	}
}

func TestResumeConfirmsPendingPayout(t *testing.T) {
	ledger := newMemLedger()
	tx := seedReady(ledger, "t1")
	processor := newScriptedProcessor()
	orch := newPayoutOrchestrator(t, ledger, processor, nil)
	if err := orch.InitiatePayout(context.Background(), *tx); err != nil {
		t.Fatalf("InitiatePayout: %v", err)
	}
	processor.setStatus(tx.Reference, TransferSuccess, "")

	rec, err := NewRecovery(ledger, orch, nil, time.Hour)
	if err != nil {
		t.Fatalf("NewRecovery: %v", err)
	}
	if err := rec.Resume(context.Background(), "t1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := ledger.get("t1"); got.Status != domain.StatusPayoutCompleted {
		t.Errorf("status = %s, want payout_completed", got.Status)
	}
}

func TestResumeConfirmsPendingDeposit(t *testing.T) {
	ledger := newMemLedger()
	ledger.put(&domain.Transaction{
		ID:           "d1",
		UserID:       "bob",
		Flow:         domain.FlowOnramp,
		Status:       domain.StatusCreditPending,
		Token:        "USDC",
		AmountSource: decimal.NewFromInt(10),
		Reference:    "depositref",
		Metadata:     map[string]string{domain.MetaChargeID: "chg_9"},
	})
	processor := &stubDepositProcessor{charge: Charge{ID: "chg_9", Status: ChargeSettled}}
	deposits := newDepositService(t, ledger, processor, &fixedRates{rate: decimal.NewFromInt(1500)})
	orch := newPayoutOrchestrator(t, ledger, newScriptedProcessor(), nil)

	rec, err := NewRecovery(ledger, orch, deposits, time.Hour)
	if err != nil {
		t.Fatalf("NewRecovery: %v", err)
	}
	if err := rec.Resume(context.Background(), "d1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := ledger.get("d1"); got.Status != domain.StatusCredited {
		t.Errorf("status = %s, want credited", got.Status)
	}
	balance, _ := ledger.Balance(context.Background(), "bob", "USDC")
	if !balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %s, want the mirrored credit of 10", balance)
	}
}

func TestResumeRejections(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.Status
		wantErr error
	}{
		{"waiting on chain leg", domain.StatusSubmittedOnchain, ErrNotResumable},
		{"only signed", domain.StatusSigned, ErrNotResumable},
		{"already terminal", domain.StatusPayoutCompleted, ErrTerminal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ledger := newMemLedger()
			tx := seedReady(ledger, "t1")
			tx.Status = tc.status
			rec := newRecovery(t, ledger, newScriptedProcessor())

			if err := rec.Resume(context.Background(), "t1"); !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestResumeUnknownTransaction(t *testing.T) {
	rec := newRecovery(t, newMemLedger(), newScriptedProcessor())
	if err := rec.Resume(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestFail(t *testing.T) {
	ledger := newMemLedger()
	tx := seedReady(ledger, "t1")
	tx.Status = domain.StatusSubmittedOnchain
	rec := newRecovery(t, ledger, newScriptedProcessor())

	if err := rec.Fail(context.Background(), "t1", "event never emitted, chain halted"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got := ledger.get("t1")
	if got.Status != domain.StatusPayoutFailed {
		t.Errorf("status = %s, want payout_failed", got.Status)
	}
	if got.Meta(domain.MetaFailReason) != "event never emitted, chain halted" {
		t.Errorf("fail reason = %q", got.Meta(domain.MetaFailReason))
	}
}

func TestFailOnrampUsesCreditFailed(t *testing.T) {
	ledger := newMemLedger()
	ledger.put(&domain.Transaction{
		ID:        "d1",
		Flow:      domain.FlowOnramp,
		Status:    domain.StatusCreditPending,
		Reference: "depositref",
	})
	rec := newRecovery(t, ledger, newScriptedProcessor())

	if err := rec.Fail(context.Background(), "d1", "charge disputed"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if got := ledger.get("d1"); got.Status != domain.StatusCreditFailed {
		t.Errorf("status = %s, want credit_failed", got.Status)
	}
}

func TestFailGuards(t *testing.T) {
	ledger := newMemLedger()
	tx := seedReady(ledger, "t1")
	tx.Status = domain.StatusPayoutCompleted
	rec := newRecovery(t, ledger, newScriptedProcessor())

	if err := rec.Fail(context.Background(), "t1", "too late"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("error = %v, want ErrTerminal", err)
	}
	if err := rec.Fail(context.Background(), "t1", ""); err == nil {
		t.Fatal("Fail accepted an empty reason")
	}
}
