package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rampbridge/internal/application"
	"rampbridge/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Repository is the MySQL ledger. Status changes are conditional updates
// keyed on the expected current status, so concurrent writers and replayed
// events cannot move a record twice or backward.
type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id VARCHAR(36) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			flow VARCHAR(16) NOT NULL,
			status VARCHAR(32) NOT NULL,
			token VARCHAR(16) NOT NULL,
			amount_source DECIMAL(36,18) NOT NULL,
			amount_target DECIMAL(36,18) NOT NULL,
			reference VARCHAR(64) NOT NULL,
			chain_tx_ref VARCHAR(128) NOT NULL DEFAULT '',
			chain_ref_norm VARCHAR(128) NOT NULL DEFAULT '',
			nonce BIGINT UNSIGNED NOT NULL DEFAULT 0,
			locked_rate DECIMAL(36,12) NOT NULL,
			metadata MEDIUMTEXT NOT NULL,
			created_at DATETIME(3) NOT NULL,
			updated_at DATETIME(3) NOT NULL,
			PRIMARY KEY (id),
			UNIQUE KEY tx_reference (reference),
			KEY tx_chain_ref_idx (chain_ref_norm),
			KEY tx_user_nonce_idx (user_id, nonce),
			KEY tx_status_idx (status, updated_at)
		)`,
		`CREATE TABLE IF NOT EXISTS nonces (
			user_id VARCHAR(64) NOT NULL,
			next_nonce BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS balances (
			user_id VARCHAR(64) NOT NULL,
			token VARCHAR(16) NOT NULL,
			balance DECIMAL(36,18) NOT NULL,
			PRIMARY KEY (user_id, token)
		)`,
		`CREATE TABLE IF NOT EXISTS orphan_events (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			chain_id BIGINT UNSIGNED NOT NULL DEFAULT 0,
			ref_norm VARCHAR(128) NOT NULL DEFAULT '',
			log_index BIGINT UNSIGNED NOT NULL DEFAULT 0,
			event MEDIUMTEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			alerted TINYINT(1) NOT NULL DEFAULT 0,
			resolved TINYINT(1) NOT NULL DEFAULT 0,
			first_seen DATETIME(3) NOT NULL,
			last_attempt DATETIME(3) NULL,
			PRIMARY KEY (id),
			UNIQUE KEY orphan_event_key (chain_id, ref_norm, log_index),
			KEY orphan_resolved_idx (resolved, id)
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			state_key VARCHAR(64) NOT NULL,
			state_value VARCHAR(64) NOT NULL,
			PRIMARY KEY (state_key)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const txColumns = `id, user_id, flow, status, token, amount_source, amount_target, reference,
	chain_tx_ref, chain_ref_norm, nonce, locked_rate, metadata, created_at, updated_at`

// NextNonce hands out the next per-user nonce under a row lock. Concurrent
// authorizations for the same user serialize here, which is what keeps the
// sequence gapless and strictly increasing.
func (r *Repository) NextNonce(ctx context.Context, userID string) (uint64, error) {
	ctx, span := startDBSpan(ctx, "mysql.NextNonce", attribute.String("user.id", userID))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, spanErr(span, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT IGNORE INTO nonces (user_id, next_nonce) VALUES (?, 0)`, userID); err != nil {
		_ = tx.Rollback()
		return 0, spanErr(span, err)
	}
	var current uint64
	if err := tx.QueryRowContext(ctx, `SELECT next_nonce FROM nonces WHERE user_id = ? FOR UPDATE`, userID).Scan(&current); err != nil {
		_ = tx.Rollback()
		return 0, spanErr(span, err)
	}
	next := current + 1
	if _, err := tx.ExecContext(ctx, `UPDATE nonces SET next_nonce = ? WHERE user_id = ?`, next, userID); err != nil {
		_ = tx.Rollback()
		return 0, spanErr(span, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, spanErr(span, err)
	}
	return next, nil
}

func (r *Repository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	ctx, span := startDBSpan(ctx, "mysql.CreateTransaction",
		attribute.String("tx.id", tx.ID),
		attribute.String("tx.flow", string(tx.Flow)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := insertTransaction(ctx, r.db, tx); err != nil {
		return spanErr(span, err)
	}
	return nil
}

// DebitAndCreate debits the user's token balance and inserts the ledger
// record in one database transaction. A failed insert rolls the debit back,
// so no code path can strand debited funds without a record.
func (r *Repository) DebitAndCreate(ctx context.Context, txn *domain.Transaction) error {
	ctx, span := startDBSpan(ctx, "mysql.DebitAndCreate",
		attribute.String("tx.id", txn.ID),
		attribute.String("user.id", txn.UserID),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return spanErr(span, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE balances SET balance = balance - ?
		WHERE user_id = ? AND token = ? AND balance >= ?`,
		txn.AmountSource.String(), txn.UserID, txn.Token, txn.AmountSource.String())
	if err != nil {
		_ = tx.Rollback()
		return spanErr(span, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return spanErr(span, err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return application.ErrInsufficientBalance
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		_ = tx.Rollback()
		return spanErr(span, err)
	}
	if err := tx.Commit(); err != nil {
		return spanErr(span, err)
	}
	return nil
}

// CreditAndTransition applies a conditional status move and a balance credit
// in one database transaction. moved=false means the record was not in the
// expected status and the balance is untouched; any error rolls both back, so
// a credit can never be lost to a partial failure after the status landed.
func (r *Repository) CreditAndTransition(ctx context.Context, id string, from, to domain.Status, userID, token string, amount decimal.Decimal) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	ctx, span := startDBSpan(ctx, "mysql.CreditAndTransition",
		attribute.String("tx.id", id),
		attribute.String("status.from", string(from)),
		attribute.String("status.to", string(to)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, spanErr(span, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		_ = tx.Rollback()
		return false, spanErr(span, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, spanErr(span, err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO balances (user_id, token, balance) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance)`,
		userID, token, amount.String()); err != nil {
		_ = tx.Rollback()
		return false, spanErr(span, err)
	}
	if err := tx.Commit(); err != nil {
		return false, spanErr(span, err)
	}
	return true, nil
}

type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTransaction(ctx context.Context, db execContext, tx *domain.Transaction) error {
	meta := tx.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	_, err = db.ExecContext(ctx, `INSERT INTO transactions
		(id, user_id, flow, status, token, amount_source, amount_target, reference,
		 chain_tx_ref, chain_ref_norm, nonce, locked_rate, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Flow, tx.Status, tx.Token,
		tx.AmountSource.String(), tx.AmountTarget.String(), tx.Reference,
		tx.ChainTxRef, tx.ChainRefNorm, tx.Nonce, tx.LockedRate.String(),
		string(payload), now, now)
	return err
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (domain.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

func (r *Repository) FindByReference(ctx context.Context, reference string) (domain.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE reference = ?`, reference)
	return scanTransaction(row)
}

func (r *Repository) FindByChainRef(ctx context.Context, normRef string) (domain.Transaction, bool, error) {
	if normRef == "" {
		return domain.Transaction{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE chain_ref_norm = ? LIMIT 1`, normRef)
	return scanTransaction(row)
}

func (r *Repository) FindByUserNonce(ctx context.Context, userID string, nonce uint64) (domain.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	row := r.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE user_id = ? AND nonce = ? AND flow = ? LIMIT 1`, userID, nonce, domain.FlowOfframp)
	return scanTransaction(row)
}

// SetChainRef stores the on-chain reference, first write wins. A repeat with
// the same normalized form is a no-op rather than a conflict.
func (r *Repository) SetChainRef(ctx context.Context, id, raw, norm string) error {
	ctx, span := startDBSpan(ctx, "mysql.SetChainRef", attribute.String("tx.id", id))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE transactions
		SET chain_tx_ref = ?, chain_ref_norm = ?, updated_at = ?
		WHERE id = ? AND (chain_ref_norm = '' OR chain_ref_norm = ?)`,
		raw, norm, time.Now().UTC(), id, norm)
	if err != nil {
		return spanErr(span, err)
	}
	return nil
}

// UpdateStatus moves a transaction from one status to another. The move is
// rejected outright when the transition table does not allow it; it reports
// moved=false without error when the record is no longer in the expected
// status.
func (r *Repository) UpdateStatus(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	ctx, span := startDBSpan(ctx, "mysql.UpdateStatus",
		attribute.String("tx.id", id),
		attribute.String("status.from", string(from)),
		attribute.String("status.to", string(to)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return false, spanErr(span, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, spanErr(span, err)
	}
	return affected > 0, nil
}

// ForceStatus bypasses the transition table for the recovery fail path. It
// still refuses to touch a record that moved since the operator read it.
func (r *Repository) ForceStatus(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	if from.Terminal() {
		return false, fmt.Errorf("transaction in terminal status %s cannot be forced", from)
	}
	ctx, span := startDBSpan(ctx, "mysql.ForceStatus",
		attribute.String("tx.id", id),
		attribute.String("status.from", string(from)),
		attribute.String("status.to", string(to)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return false, spanErr(span, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, spanErr(span, err)
	}
	return affected > 0, nil
}

func (r *Repository) MergeMetadata(ctx context.Context, id string, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.MergeMetadata", attribute.String("tx.id", id))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return spanErr(span, err)
	}
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT metadata FROM transactions WHERE id = ? FOR UPDATE`, id).Scan(&raw); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction %s not found", id)
		}
		return spanErr(span, err)
	}
	merged := map[string]string{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &merged); err != nil {
			_ = tx.Rollback()
			return spanErr(span, err)
		}
	}
	for k, v := range meta {
		merged[k] = v
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		_ = tx.Rollback()
		return spanErr(span, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE transactions SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(payload), time.Now().UTC(), id); err != nil {
		_ = tx.Rollback()
		return spanErr(span, err)
	}
	if err := tx.Commit(); err != nil {
		return spanErr(span, err)
	}
	return nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (r *Repository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE status = ? ORDER BY updated_at ASC LIMIT ?`, status, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (r *Repository) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	ctx, span := startDBSpan(ctx, "mysql.ListStuck")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE status IN (?, ?, ?, ?, ?, ?) AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`,
		domain.StatusCreated, domain.StatusSigned, domain.StatusSubmittedOnchain,
		domain.StatusEventEmitted, domain.StatusPayoutPending, domain.StatusCreditPending,
		olderThan.UTC(), clampLimit(limit))
	if err != nil {
		return nil, spanErr(span, err)
	}
	return scanTransactions(rows)
}

func (r *Repository) Balance(ctx context.Context, userID, token string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM balances WHERE user_id = ? AND token = ?`, userID, token).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(raw)
}

// InsertOrphan records an unmatched event at most once: replays of the same
// (chain, ref, log index) hit the unique key and are ignored, including after
// the orphan resolved.
func (r *Repository) InsertOrphan(ctx context.Context, ev domain.ChainEvent) error {
	ctx, span := startDBSpan(ctx, "mysql.InsertOrphan", attribute.String("event.tx_ref", ev.TxRef))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		return spanErr(span, err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT IGNORE INTO orphan_events (chain_id, ref_norm, log_index, event, first_seen)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ChainID, domain.NormalizeRef(ev.TxRef), ev.LogIndex, string(payload), time.Now().UTC())
	if err != nil {
		return spanErr(span, err)
	}
	return nil
}

func (r *Repository) ListOrphans(ctx context.Context, limit int) ([]domain.OrphanEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT id, event, attempts, alerted, first_seen, last_attempt
		FROM orphan_events WHERE resolved = 0 ORDER BY id ASC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orphans []domain.OrphanEvent
	for rows.Next() {
		var (
			orphan      domain.OrphanEvent
			payload     string
			alerted     int
			lastAttempt sql.NullTime
		)
		if err := rows.Scan(&orphan.ID, &payload, &orphan.Attempts, &alerted, &orphan.FirstSeen, &lastAttempt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &orphan.Event); err != nil {
			return nil, err
		}
		orphan.Alerted = alerted != 0
		if lastAttempt.Valid {
			orphan.LastAttempt = lastAttempt.Time
		}
		orphans = append(orphans, orphan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orphans, nil
}

func (r *Repository) MarkOrphanResolved(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE orphan_events SET resolved = 1 WHERE id = ?`, id)
	return err
}

func (r *Repository) BumpOrphanAttempt(ctx context.Context, id int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, `UPDATE orphan_events SET attempts = attempts + 1, last_attempt = ? WHERE id = ?`,
		time.Now().UTC(), id); err != nil {
		return 0, err
	}
	var attempts int
	if err := r.db.QueryRowContext(ctx, `SELECT attempts FROM orphan_events WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *Repository) MarkOrphanAlerted(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE orphan_events SET alerted = 1 WHERE id = ?`, id)
	return err
}

func (r *Repository) LastProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	var value string
	key := stateKey(chainID)
	if err := r.db.QueryRowContext(ctx, `SELECT state_value FROM state WHERE state_key = ?`, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var block uint64
	if _, err := fmt.Sscanf(value, "%d", &block); err != nil {
		return 0, false, err
	}
	return block, true, nil
}

func (r *Repository) SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error {
	ctx, span := startDBSpan(ctx, "mysql.SetLastProcessedBlock",
		attribute.Int64("chain.id", int64(chainID)),
		attribute.Int64("block.number", int64(block)),
	)
	defer span.End()
	key := stateKey(chainID)
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (state_key, state_value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state_value = VALUES(state_value)`, key, fmt.Sprintf("%d", block))
	if err != nil {
		return spanErr(span, err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func stateKey(chainID uint64) string {
	if chainID == 0 {
		return "last_block"
	}
	return fmt.Sprintf("last_block:%d", chainID)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, bool, error) {
	var (
		tx           domain.Transaction
		amountSource string
		amountTarget string
		lockedRate   string
		metadata     string
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Flow, &tx.Status, &tx.Token,
		&amountSource, &amountTarget, &tx.Reference,
		&tx.ChainTxRef, &tx.ChainRefNorm, &tx.Nonce, &lockedRate,
		&metadata, &tx.CreatedAt, &tx.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, err
	}
	if tx.AmountSource, err = decimal.NewFromString(amountSource); err != nil {
		return domain.Transaction{}, false, err
	}
	if tx.AmountTarget, err = decimal.NewFromString(amountTarget); err != nil {
		return domain.Transaction{}, false, err
	}
	if tx.LockedRate, err = decimal.NewFromString(lockedRate); err != nil {
		return domain.Transaction{}, false, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &tx.Metadata); err != nil {
			return domain.Transaction{}, false, err
		}
	}
	return tx, true, nil
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var transactions []domain.Transaction
	for rows.Next() {
		tx, _, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("rampbridge/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
