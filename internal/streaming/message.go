package streaming

import (
	"encoding/json"
	"errors"

	"rampbridge/internal/domain"
)

type MessageType string

const (
	MessageTypeWithdrawal MessageType = "withdrawal_initiated"
	MessageTypeTransfer   MessageType = "transfer"
)

// Message is the JSON envelope carried on the chain-event topics between the
// feed and the indexer.
type Message struct {
	Type         MessageType `json:"type"`
	ChainID      uint64      `json:"chain_id"`
	TraceID      string      `json:"trace_id,omitempty"`
	TxRef        string      `json:"tx_ref"`
	BlockNumber  uint64      `json:"block_number,omitempty"`
	LogIndex     uint64      `json:"log_index,omitempty"`
	User         string      `json:"user,omitempty"`
	Token        string      `json:"token,omitempty"`
	Amount       string      `json:"amount,omitempty"`
	Nonce        uint64      `json:"nonce,omitempty"`
	WithdrawalID string      `json:"withdrawal_id,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	if msg.ChainID == 0 {
		return nil, errors.New("chain_id is required")
	}
	if msg.TxRef == "" {
		return nil, errors.New("tx_ref is required")
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errors.New("message type is missing")
	}
	if msg.ChainID == 0 {
		return Message{}, errors.New("chain_id is missing")
	}
	if msg.TxRef == "" {
		return Message{}, errors.New("tx_ref is missing")
	}
	return msg, nil
}

// FromEvent wraps a decoded chain event for publishing.
func FromEvent(ev domain.ChainEvent, traceID string) Message {
	return Message{
		Type:         MessageType(ev.Kind),
		ChainID:      ev.ChainID,
		TraceID:      traceID,
		TxRef:        ev.TxRef,
		BlockNumber:  ev.BlockNumber,
		LogIndex:     ev.LogIndex,
		User:         ev.User,
		Token:        ev.Token,
		Amount:       ev.Amount,
		Nonce:        ev.Nonce,
		WithdrawalID: ev.WithdrawalID,
	}
}

// ToEvent unwraps a consumed message for matching.
func (m Message) ToEvent() domain.ChainEvent {
	return domain.ChainEvent{
		Kind:         domain.EventKind(m.Type),
		ChainID:      m.ChainID,
		TxRef:        m.TxRef,
		BlockNumber:  m.BlockNumber,
		LogIndex:     m.LogIndex,
		User:         m.User,
		Token:        m.Token,
		Amount:       m.Amount,
		Nonce:        m.Nonce,
		WithdrawalID: m.WithdrawalID,
	}
}
