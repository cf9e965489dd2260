package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rampbridge/internal/domain"

	"github.com/shopspring/decimal"
)

// memLedger is an in-memory stand-in for the MySQL repository. It enforces
// the same contracts the real one does: unique references, conditional
// status updates checked against the transition table, and per-user nonce
// counters.
type memLedger struct {
	mu          sync.Mutex
	txs         map[string]*domain.Transaction
	nonces      map[string]uint64
	balances    map[string]decimal.Decimal
	orphans     map[int64]*domain.OrphanEvent
	orphanSeq   int64
	transitions map[string]int

	// single-shot fault injection for the transactional ops
	creditErr error
	createErr error
}

func newMemLedger() *memLedger {
	return &memLedger{
		txs:         make(map[string]*domain.Transaction),
		nonces:      make(map[string]uint64),
		balances:    make(map[string]decimal.Decimal),
		orphans:     make(map[int64]*domain.OrphanEvent),
		transitions: make(map[string]int),
	}
}

func balanceKey(userID, token string) string { return userID + "/" + token }

func (l *memLedger) setBalance(userID, token string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey(userID, token)] = amount
}

func (l *memLedger) failNextCredit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditErr = err
}

func (l *memLedger) failNextCreate(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.createErr = err
}

func (l *memLedger) put(tx *domain.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tx.Metadata == nil {
		tx.Metadata = map[string]string{}
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = time.Now()
	}
	l.txs[tx.ID] = tx
}

func (l *memLedger) get(id string) domain.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneTx(l.txs[id])
}

func cloneTx(tx *domain.Transaction) domain.Transaction {
	out := *tx
	out.Metadata = make(map[string]string, len(tx.Metadata))
	for k, v := range tx.Metadata {
		out.Metadata[k] = v
	}
	return out
}

func (l *memLedger) NextNonce(_ context.Context, userID string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonces[userID]++
	return l.nonces[userID], nil
}

func (l *memLedger) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.txs {
		if existing.Reference == tx.Reference {
			return fmt.Errorf("duplicate reference %s", tx.Reference)
		}
	}
	if tx.Metadata == nil {
		tx.Metadata = map[string]string{}
	}
	tx.CreatedAt = time.Now()
	tx.UpdatedAt = tx.CreatedAt
	l.txs[tx.ID] = tx
	return nil
}

func (l *memLedger) Balance(_ context.Context, userID, token string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey(userID, token)], nil
}

// DebitAndCreate mirrors the repository's atomic debit+insert: any failure
// leaves both the balance and the transaction set untouched.
func (l *memLedger) DebitAndCreate(_ context.Context, tx *domain.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey(tx.UserID, tx.Token)
	if l.balances[key].LessThan(tx.AmountSource) {
		return ErrInsufficientBalance
	}
	if l.createErr != nil {
		err := l.createErr
		l.createErr = nil
		return err
	}
	for _, existing := range l.txs {
		if existing.Reference == tx.Reference {
			return fmt.Errorf("duplicate reference %s", tx.Reference)
		}
	}
	if tx.Metadata == nil {
		tx.Metadata = map[string]string{}
	}
	tx.CreatedAt = time.Now()
	tx.UpdatedAt = tx.CreatedAt
	l.balances[key] = l.balances[key].Sub(tx.AmountSource)
	l.txs[tx.ID] = tx
	return nil
}

// CreditAndTransition mirrors the repository's atomic transition+credit: a
// failed credit leaves the status where it was.
func (l *memLedger) CreditAndTransition(_ context.Context, id string, from, to domain.Status, userID, token string, amount decimal.Decimal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[id]
	if !ok {
		return false, fmt.Errorf("transaction %s not found", id)
	}
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	if tx.Status != from {
		return false, nil
	}
	if l.creditErr != nil {
		err := l.creditErr
		l.creditErr = nil
		return false, err
	}
	tx.Status = to
	tx.UpdatedAt = time.Now()
	l.transitions[id]++
	key := balanceKey(userID, token)
	l.balances[key] = l.balances[key].Add(amount)
	return true, nil
}

func (l *memLedger) GetTransaction(_ context.Context, id string) (domain.Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[id]
	if !ok {
		return domain.Transaction{}, false, nil
	}
	return cloneTx(tx), true, nil
}

func (l *memLedger) FindByReference(_ context.Context, reference string) (domain.Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range l.txs {
		if tx.Reference == reference {
			return cloneTx(tx), true, nil
		}
	}
	return domain.Transaction{}, false, nil
}

func (l *memLedger) FindByChainRef(_ context.Context, normRef string) (domain.Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range l.txs {
		if tx.ChainRefNorm != "" && tx.ChainRefNorm == normRef {
			return cloneTx(tx), true, nil
		}
	}
	return domain.Transaction{}, false, nil
}

func (l *memLedger) FindByUserNonce(_ context.Context, userID string, nonce uint64) (domain.Transaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range l.txs {
		if tx.Flow == domain.FlowOfframp && tx.UserID == userID && tx.Nonce == nonce {
			return cloneTx(tx), true, nil
		}
	}
	return domain.Transaction{}, false, nil
}

func (l *memLedger) SetChainRef(_ context.Context, id, raw, norm string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[id]
	if !ok {
		return fmt.Errorf("transaction %s not found", id)
	}
	tx.ChainTxRef = raw
	tx.ChainRefNorm = norm
	return nil
}

func (l *memLedger) UpdateStatus(_ context.Context, id string, from, to domain.Status) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[id]
	if !ok {
		return false, fmt.Errorf("transaction %s not found", id)
	}
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	if tx.Status != from {
		return false, nil
	}
	tx.Status = to
	tx.UpdatedAt = time.Now()
	l.transitions[id]++
	return true, nil
}

func (l *memLedger) ForceStatus(_ context.Context, id string, from, to domain.Status) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[id]
	if !ok {
		return false, fmt.Errorf("transaction %s not found", id)
	}
	if tx.Status != from || tx.Status.Terminal() {
		return false, nil
	}
	tx.Status = to
	tx.UpdatedAt = time.Now()
	l.transitions[id]++
	return true, nil
}

func (l *memLedger) MergeMetadata(_ context.Context, id string, meta map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[id]
	if !ok {
		return fmt.Errorf("transaction %s not found", id)
	}
	if tx.Metadata == nil {
		tx.Metadata = map[string]string{}
	}
	for k, v := range meta {
		tx.Metadata[k] = v
	}
	return nil
}

func (l *memLedger) ListByUser(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range l.txs {
		if tx.UserID == userID && len(out) < limit {
			out = append(out, cloneTx(tx))
		}
	}
	return out, nil
}

func (l *memLedger) ListByStatus(_ context.Context, status domain.Status, limit int) ([]domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range l.txs {
		if tx.Status == status && len(out) < limit {
			out = append(out, cloneTx(tx))
		}
	}
	return out, nil
}

func (l *memLedger) ListStuck(_ context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range l.txs {
		if !tx.Status.Terminal() && tx.UpdatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, cloneTx(tx))
		}
	}
	return out, nil
}

func (l *memLedger) InsertOrphan(_ context.Context, ev domain.ChainEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, orphan := range l.orphans {
		if orphan.Event.ChainID == ev.ChainID && orphan.Event.LogIndex == ev.LogIndex &&
			domain.RefsEqual(orphan.Event.TxRef, ev.TxRef) {
			return nil
		}
	}
	l.orphanSeq++
	l.orphans[l.orphanSeq] = &domain.OrphanEvent{ID: l.orphanSeq, Event: ev, FirstSeen: time.Now()}
	return nil
}

func (l *memLedger) ListOrphans(_ context.Context, limit int) ([]domain.OrphanEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.OrphanEvent
	for _, orphan := range l.orphans {
		if len(out) < limit {
			out = append(out, *orphan)
		}
	}
	return out, nil
}

func (l *memLedger) MarkOrphanResolved(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.orphans, id)
	return nil
}

func (l *memLedger) BumpOrphanAttempt(_ context.Context, id int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	orphan, ok := l.orphans[id]
	if !ok {
		return 0, fmt.Errorf("orphan %d not found", id)
	}
	orphan.Attempts++
	orphan.LastAttempt = time.Now()
	return orphan.Attempts, nil
}

func (l *memLedger) MarkOrphanAlerted(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	orphan, ok := l.orphans[id]
	if !ok {
		return fmt.Errorf("orphan %d not found", id)
	}
	orphan.Alerted = true
	return nil
}

// fixedRates answers with a settable rate and counts lookups.
type fixedRates struct {
	mu    sync.Mutex
	rate  decimal.Decimal
	err   error
	calls int
}

func (r *fixedRates) Rate(context.Context, string, string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return decimal.Decimal{}, r.err
	}
	return r.rate, nil
}

type stubSigner struct {
	err error
}

func (s stubSigner) Sign(domain.WithdrawalRequest) (domain.Signature, error) {
	if s.err != nil {
		return domain.Signature{}, s.err
	}
	return domain.Signature{R: "0r", S: "0s"}, nil
}

// scriptedProcessor simulates the fiat processor. failuresLeft initial
// CreateTransfer calls fail with failErr; lostResponse additionally records
// the transfer before failing, simulating a response lost in flight.
type scriptedProcessor struct {
	mu           sync.Mutex
	byRef        map[string]Transfer
	createCalls  int
	failuresLeft int
	failErr      error
	lostResponse bool
	createStatus TransferStatus
	seq          int
}

func newScriptedProcessor() *scriptedProcessor {
	return &scriptedProcessor{byRef: make(map[string]Transfer), createStatus: TransferPending}
}

func (p *scriptedProcessor) CreateTransfer(_ context.Context, req TransferRequest) (Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.failuresLeft > 0 {
		p.failuresLeft--
		if p.lostResponse {
			p.record(req)
		}
		return Transfer{}, p.failErr
	}
	return p.record(req), nil
}

func (p *scriptedProcessor) record(req TransferRequest) Transfer {
	if existing, ok := p.byRef[req.Reference]; ok {
		return existing
	}
	p.seq++
	transfer := Transfer{
		ID:        fmt.Sprintf("trf_%d", p.seq),
		Status:    p.createStatus,
		Reference: req.Reference,
		Amount:    req.Amount,
	}
	p.byRef[req.Reference] = transfer
	return transfer
}

func (p *scriptedProcessor) GetTransfer(_ context.Context, id string) (Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, transfer := range p.byRef {
		if transfer.ID == id {
			return transfer, nil
		}
	}
	return Transfer{}, fmt.Errorf("transfer %s not found", id)
}

func (p *scriptedProcessor) FindTransferByReference(_ context.Context, reference string) (Transfer, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	transfer, ok := p.byRef[reference]
	return transfer, ok, nil
}

func (p *scriptedProcessor) setStatus(reference string, status TransferStatus, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	transfer := p.byRef[reference]
	transfer.Status = status
	transfer.FailureReason = reason
	p.byRef[reference] = transfer
}

func (p *scriptedProcessor) transferCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byRef)
}

type spyPayoutObserver struct {
	mu                                      sync.Mutex
	initiated, retries, completed, failures int
}

func (o *spyPayoutObserver) OnPayoutInitiated() { o.mu.Lock(); o.initiated++; o.mu.Unlock() }
func (o *spyPayoutObserver) OnPayoutRetry()     { o.mu.Lock(); o.retries++; o.mu.Unlock() }
func (o *spyPayoutObserver) OnPayoutCompleted() { o.mu.Lock(); o.completed++; o.mu.Unlock() }
func (o *spyPayoutObserver) OnPayoutFailed()    { o.mu.Lock(); o.failures++; o.mu.Unlock() }

type spyReconcileObserver struct {
	mu       sync.Mutex
	matched  int
	orphaned int
	alerts   int
}

func (o *spyReconcileObserver) OnEventMatched(domain.EventKind)  { o.mu.Lock(); o.matched++; o.mu.Unlock() }
func (o *spyReconcileObserver) OnEventOrphaned(domain.EventKind) { o.mu.Lock(); o.orphaned++; o.mu.Unlock() }
func (o *spyReconcileObserver) OnOrphanAlert(int64, int)         { o.mu.Lock(); o.alerts++; o.mu.Unlock() }
