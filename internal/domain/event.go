package domain

import "time"

// EventKind identifies the contract event a chain log decodes to.
type EventKind string

const (
	EventWithdrawalInitiated EventKind = "withdrawal_initiated"
	EventTransfer            EventKind = "transfer"
)

// ChainEvent is a decoded on-chain event as delivered by the feed. TxRef is
// kept exactly as received; normalization happens at match time.
type ChainEvent struct {
	Kind         EventKind
	ChainID      uint64
	TxRef        string
	BlockNumber  uint64
	LogIndex     uint64
	User         string
	Token        string
	Amount       string // uint256 decimal string
	Nonce        uint64
	WithdrawalID string // reference embedded in the event payload, if any
}

// OrphanEvent is a chain event the indexer could not resolve to a ledger
// record. Orphans are retried on a cadence and surfaced to operators after a
// bound, never dropped.
type OrphanEvent struct {
	ID          int64
	Event       ChainEvent
	Attempts    int
	Alerted     bool
	FirstSeen   time.Time
	LastAttempt time.Time
}
