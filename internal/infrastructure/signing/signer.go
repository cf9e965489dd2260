package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"rampbridge/internal/domain"
)

// Signer holds the bridge's withdrawal authorization key. The contract knows
// the matching public key; a signature over the canonical request encoding
// is what lets a user take the authorization on chain.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner parses a hex-encoded P-256 scalar as the private key.
func NewSigner(hexKey string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("signing key is required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, errors.New("signing key is out of curve range")
	}
	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         d,
	}
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	return &Signer{key: key}, nil
}

// GenerateKey returns a fresh hex-encoded key, for development setups.
func GenerateKey() (string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key.D.Bytes()), nil
}

func (s *Signer) Sign(req domain.WithdrawalRequest) (domain.Signature, error) {
	digest := sha256.Sum256(req.CanonicalBytes())
	r, sv, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return domain.Signature{}, fmt.Errorf("sign withdrawal request: %w", err)
	}
	return domain.Signature{
		R: hex.EncodeToString(r.Bytes()),
		S: hex.EncodeToString(sv.Bytes()),
	}, nil
}

// Verify checks a signature against the signer's public key. The API uses it
// to self-check authorizations before they leave the service.
func (s *Signer) Verify(req domain.WithdrawalRequest, sig domain.Signature) bool {
	r, ok := new(big.Int).SetString(sig.R, 16)
	if !ok {
		return false
	}
	sv, ok := new(big.Int).SetString(sig.S, 16)
	if !ok {
		return false
	}
	digest := sha256.Sum256(req.CanonicalBytes())
	return ecdsa.Verify(&s.key.PublicKey, digest[:], r, sv)
}

// PublicKey returns the uncompressed hex encoding of the verification key.
func (s *Signer) PublicKey() string {
	return hex.EncodeToString(elliptic.Marshal(elliptic.P256(), s.key.PublicKey.X, s.key.PublicKey.Y))
}
