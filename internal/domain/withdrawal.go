package domain

import (
	"encoding/binary"

	"github.com/shopspring/decimal"
)

// WithdrawalRequest is the intent the signing authority binds with a
// signature. The contract verifies the same fields, so the canonical encoding
// below is part of the wire contract and must never change shape silently.
type WithdrawalRequest struct {
	User      string
	Amount    decimal.Decimal
	Token     string
	Reference string
	Nonce     uint64
	Timestamp int64
}

// Signature is an ECDSA signature split into the (r, s) pair the contract's
// withdraw_with_signature entrypoint takes.
type Signature struct {
	R string
	S string
}

// CanonicalBytes is the deterministic encoding that gets hashed and signed:
// each string field length-prefixed (uint32 big endian), then nonce and
// timestamp as fixed-width big endian integers.
func (r WithdrawalRequest) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	for _, field := range []string{r.User, r.Amount.String(), r.Token, r.Reference} {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(field)))
		buf = append(buf, length[:]...)
		buf = append(buf, field...)
	}
	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], r.Nonce)
	binary.BigEndian.PutUint64(tail[8:], uint64(r.Timestamp))
	return append(buf, tail[:]...)
}
