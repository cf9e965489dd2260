package application

import (
	"context"
	"testing"

	"rampbridge/internal/domain"

	"github.com/shopspring/decimal"
)

func seedOfframp(ledger *memLedger, id string, status domain.Status) *domain.Transaction {
	tx := &domain.Transaction{
		ID:           id,
		UserID:       "alice",
		Flow:         domain.FlowOfframp,
		Status:       status,
		Token:        "USDC",
		AmountSource: decimal.NewFromInt(10),
		Reference:    "ref" + id,
		Nonce:        7,
		LockedRate:   decimal.NewFromInt(1500),
	}
	ledger.put(tx)
	return tx
}

func TestProcessEventMatchesNormalizedRef(t *testing.T) {
	ledger := newMemLedger()
	tx := seedOfframp(ledger, "t1", domain.StatusSubmittedOnchain)
	// The client reported the hash without the prefix and in mixed case.
	tx.ChainTxRef = "06ef51AF"
	tx.ChainRefNorm = domain.NormalizeRef(tx.ChainTxRef)

	rec, err := NewReconciler(ledger, nil, 3)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	ev := domain.ChainEvent{
		Kind:  domain.EventWithdrawalInitiated,
		TxRef: "0x06EF51af",
	}
	if err := rec.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	got := ledger.get("t1")
	if got.Status != domain.StatusEventEmitted {
		t.Errorf("status = %s, want event_emitted", got.Status)
	}
	// First write wins: the client-reported raw ref stays.
	if got.ChainTxRef != "06ef51AF" {
		t.Errorf("raw ref rewritten to %q", got.ChainTxRef)
	}
	if len(ledger.orphans) != 0 {
		t.Error("matched event was recorded as orphan")
	}
}

func TestProcessEventFallsBackToEmbeddedReference(t *testing.T) {
	ledger := newMemLedger()
	tx := seedOfframp(ledger, "t1", domain.StatusSigned)
	tx.Reference = "00aa11bb22cc33dd44ee55ff66778899"

	rec, _ := NewReconciler(ledger, nil, 3)
	ev := domain.ChainEvent{
		Kind:         domain.EventWithdrawalInitiated,
		TxRef:        "0xdeadbeef",
		WithdrawalID: "0x00AA11BB22CC33DD44EE55FF66778899",
	}
	if err := rec.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	got := ledger.get("t1")
	if got.Status != domain.StatusEventEmitted {
		t.Errorf("status = %s, want event_emitted", got.Status)
	}
	if got.ChainRefNorm != "deadbeef" {
		t.Errorf("chain ref not stored from event: %q", got.ChainRefNorm)
	}
}

func TestProcessEventFallsBackToUserNonce(t *testing.T) {
	ledger := newMemLedger()
	seedOfframp(ledger, "t1", domain.StatusSubmittedOnchain)

	rec, _ := NewReconciler(ledger, nil, 3)
	ev := domain.ChainEvent{
		Kind:  domain.EventWithdrawalInitiated,
		TxRef: "0xfeedface",
		User:  "Alice",
		Nonce: 7,
	}
	if err := rec.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if got := ledger.get("t1"); got.Status != domain.StatusEventEmitted {
		t.Errorf("status = %s, want event_emitted", got.Status)
	}
}

func TestProcessEventReplayDoesNotRegress(t *testing.T) {
	ledger := newMemLedger()
	tx := seedOfframp(ledger, "t1", domain.StatusSubmittedOnchain)
	tx.ChainRefNorm = "abcd"

	rec, _ := NewReconciler(ledger, nil, 3)
	ev := domain.ChainEvent{Kind: domain.EventWithdrawalInitiated, TxRef: "0xABCD"}
	for i := 0; i < 3; i++ {
		if err := rec.ProcessEvent(context.Background(), ev); err != nil {
			t.Fatalf("ProcessEvent replay %d: %v", i, err)
		}
	}

	if got := ledger.get("t1"); got.Status != domain.StatusEventEmitted {
		t.Errorf("status = %s, want event_emitted", got.Status)
	}
	if n := ledger.transitions["t1"]; n != 1 {
		t.Errorf("replays caused %d transitions, want 1", n)
	}

	// Even once the payout completed, a very late replay is a no-op.
	ledger.txs["t1"].Status = domain.StatusPayoutCompleted
	if err := rec.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent after completion: %v", err)
	}
	if got := ledger.get("t1"); got.Status != domain.StatusPayoutCompleted {
		t.Errorf("late replay regressed status to %s", got.Status)
	}
}

func TestProcessEventOnrampRecordsCreditRefOnly(t *testing.T) {
	ledger := newMemLedger()
	ledger.put(&domain.Transaction{
		ID:        "d1",
		UserID:    "bob",
		Flow:      domain.FlowOnramp,
		Status:    domain.StatusCreditPending,
		Reference: "depositref",
	})

	rec, _ := NewReconciler(ledger, nil, 3)
	ev := domain.ChainEvent{
		Kind:         domain.EventTransfer,
		TxRef:        "0xC0FFEE",
		WithdrawalID: "depositref",
	}
	if err := rec.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	got := ledger.get("d1")
	if got.Status != domain.StatusCreditPending {
		t.Errorf("on-ramp status moved by chain event: %s", got.Status)
	}
	if got.Meta(domain.MetaCreditTxRef) != "0xC0FFEE" {
		t.Errorf("credit tx ref not recorded: %v", got.Metadata)
	}
}

func TestProcessEventOrphansUnmatched(t *testing.T) {
	ledger := newMemLedger()
	observer := &spyReconcileObserver{}
	rec, _ := NewReconciler(ledger, observer, 3)

	ev := domain.ChainEvent{Kind: domain.EventWithdrawalInitiated, TxRef: "0x404", User: "nobody", Nonce: 99}
	if err := rec.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if len(ledger.orphans) != 1 {
		t.Fatalf("orphans = %d, want 1", len(ledger.orphans))
	}
	if observer.orphaned != 1 || observer.matched != 0 {
		t.Errorf("observer: matched=%d orphaned=%d", observer.matched, observer.orphaned)
	}
}

func TestProcessEventReplayRecordsOrphanOnce(t *testing.T) {
	ledger := newMemLedger()
	rec, _ := NewReconciler(ledger, nil, 3)

	ev := domain.ChainEvent{
		Kind:     domain.EventWithdrawalInitiated,
		ChainID:  1,
		TxRef:    "0x404",
		LogIndex: 5,
		User:     "nobody",
		Nonce:    99,
	}
	for i := 0; i < 3; i++ {
		if err := rec.ProcessEvent(context.Background(), ev); err != nil {
			t.Fatalf("ProcessEvent replay %d: %v", i, err)
		}
	}
	// A replayed stream delivers the same event again; the casing of the ref
	// must not defeat the dedup either.
	replay := ev
	replay.TxRef = "0X404"
	if err := rec.ProcessEvent(context.Background(), replay); err != nil {
		t.Fatalf("ProcessEvent recased replay: %v", err)
	}

	if len(ledger.orphans) != 1 {
		t.Fatalf("orphans = %d, want one row per distinct event", len(ledger.orphans))
	}
}

func TestRetryOrphansResolvesLateArrival(t *testing.T) {
	ledger := newMemLedger()
	observer := &spyReconcileObserver{}
	rec, _ := NewReconciler(ledger, observer, 3)

	ev := domain.ChainEvent{Kind: domain.EventWithdrawalInitiated, TxRef: "0xAA", User: "alice", Nonce: 7}
	if err := rec.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	// The matching record lands after the event did.
	seedOfframp(ledger, "t1", domain.StatusSubmittedOnchain)

	if err := rec.RetryOrphans(context.Background()); err != nil {
		t.Fatalf("RetryOrphans: %v", err)
	}
	if got := ledger.get("t1"); got.Status != domain.StatusEventEmitted {
		t.Errorf("status = %s, want event_emitted", got.Status)
	}
	if len(ledger.orphans) != 0 {
		t.Error("resolved orphan not removed")
	}
	if observer.matched != 1 {
		t.Errorf("observer matched = %d, want 1", observer.matched)
	}
}

func TestRetryOrphansAlertsAfterMaxAttempts(t *testing.T) {
	ledger := newMemLedger()
	observer := &spyReconcileObserver{}
	rec, _ := NewReconciler(ledger, observer, 2)

	ev := domain.ChainEvent{Kind: domain.EventWithdrawalInitiated, TxRef: "0x404"}
	if err := rec.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := rec.RetryOrphans(context.Background()); err != nil {
			t.Fatalf("RetryOrphans pass %d: %v", i, err)
		}
	}
	if observer.alerts != 1 {
		t.Errorf("alerts = %d, want exactly 1", observer.alerts)
	}
	for _, orphan := range ledger.orphans {
		if !orphan.Alerted {
			t.Error("exhausted orphan not flagged")
		}
	}
}
