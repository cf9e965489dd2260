package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"rampbridge/internal/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// EventAudit keeps an append-only copy of every chain event the indexer
// consumed. The ledger only stores the outcome of matching; when an operator
// investigates an orphan or a dispute, this table is the raw record.
type EventAudit struct {
	db   *sql.DB
	conn clickhouse.Conn
}

func NewEventAudit(dsn string) (*EventAudit, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("clickhouse dsn is required")
	}
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(options)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &EventAudit{db: db, conn: conn}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS chain_events (
		chain_id UInt64,
		kind String,
		tx_ref String,
		tx_ref_norm String,
		block_number UInt64,
		log_index UInt64,
		user String,
		token String,
		amount String,
		nonce UInt64,
		withdrawal_id String,
		received_at DateTime64(3)
	) ENGINE = MergeTree
	PARTITION BY chain_id
	ORDER BY (chain_id, block_number, log_index)`)
	return err
}

func (a *EventAudit) StoreEvents(ctx context.Context, events []domain.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batch, err := a.conn.PrepareBatch(ctx, `INSERT INTO chain_events (chain_id, kind, tx_ref, tx_ref_norm, block_number, log_index, user, token, amount, nonce, withdrawal_id, received_at)`)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, event := range events {
		if err := batch.Append(
			event.ChainID,
			string(event.Kind),
			event.TxRef,
			domain.NormalizeRef(event.TxRef),
			event.BlockNumber,
			event.LogIndex,
			strings.ToLower(event.User),
			event.Token,
			event.Amount,
			event.Nonce,
			event.WithdrawalID,
			now,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// FindByRef looks up audited events by normalized tx ref, newest first.
func (a *EventAudit) FindByRef(ctx context.Context, normRef string, limit int) ([]domain.ChainEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `SELECT chain_id, kind, tx_ref, block_number, log_index, user, token, amount, nonce, withdrawal_id
		FROM chain_events WHERE tx_ref_norm = ? ORDER BY block_number DESC, log_index DESC LIMIT ?`, normRef, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ChainEvent
	for rows.Next() {
		var (
			event domain.ChainEvent
			kind  string
		)
		if err := rows.Scan(&event.ChainID, &kind, &event.TxRef, &event.BlockNumber, &event.LogIndex,
			&event.User, &event.Token, &event.Amount, &event.Nonce, &event.WithdrawalID); err != nil {
			return nil, err
		}
		event.Kind = domain.EventKind(kind)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (a *EventAudit) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.db.PingContext(ctx)
}
