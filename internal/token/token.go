// token.go - Fungible value tokens and their spend-side derivation.
//
// A token is the pair (serial, spend_secret). The serial is the blind
// protocol's finalized output, so the minting quorum never saw it; the
// spend secret never leaves the holder. Spending reveals only the
// nullifier H(serial || spend_secret).

package token

import (
	"crypto/rand"
	"fmt"

	"veilmint/internal/nullifier"
	"veilmint/internal/voprf"
)

// Token is an issued, spendable unit of value.
type Token struct {
	Serial      [32]byte
	SpendSecret [32]byte
}

// NewToken forms a token from a finalized blind-evaluation output and a
// fresh spend secret.
func NewToken(serial voprf.Output) (Token, error) {
	var t Token
	t.Serial = serial
	if _, err := rand.Read(t.SpendSecret[:]); err != nil {
		return Token{}, fmt.Errorf("failed to generate spend secret: %w", err)
	}
	return t, nil
}

// Nullifier derives the token's spend identifier.
func (t Token) Nullifier() nullifier.Nullifier {
	return nullifier.Derive(t.Serial[:], t.SpendSecret[:])
}

// IssuanceRecord is the durable artifact of a committed mint batch,
// consumed by the storage collaborator and by auditors.
type IssuanceRecord struct {
	Epoch       uint64   `cbor:"1,keyasint"`
	Amount      uint64   `cbor:"2,keyasint"`
	ReceiptRoot [32]byte `cbor:"3,keyasint"`
	Proof       []byte   `cbor:"4,keyasint"`
	TokenCount  int      `cbor:"5,keyasint"`
}
