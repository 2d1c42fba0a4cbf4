// receipt.go - Service receipts accumulated into a mint batch.
//
// Receipts credit infrastructure work (storage, relay, serving) and back a
// mint request: their Merkle root is one of the three public inputs the
// minting proof binds.

package token

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"veilmint/internal/merkle"
)

// receiptDomain separates receipt commitments from other BLAKE2b uses.
const receiptDomain = "veilmint/receipt/v1"

// Receipt records a unit of service performed for a provider in an epoch.
type Receipt struct {
	Provider [32]byte `cbor:"1,keyasint"`
	Amount   uint64   `cbor:"2,keyasint"`
	Epoch    uint64   `cbor:"3,keyasint"`
	Nonce    [32]byte `cbor:"4,keyasint"`
}

// NewReceipt creates a receipt with a fresh anti-collision nonce.
func NewReceipt(provider [32]byte, amount, epoch uint64) (Receipt, error) {
	r := Receipt{Provider: provider, Amount: amount, Epoch: epoch}
	if _, err := rand.Read(r.Nonce[:]); err != nil {
		return Receipt{}, fmt.Errorf("failed to generate receipt nonce: %w", err)
	}
	return r, nil
}

// Commitment hashes the receipt into a Merkle leaf.
func (r Receipt) Commitment() [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(receiptDomain))
	h.Write(r.Provider[:])
	var u [8]byte
	binary.LittleEndian.PutUint64(u[:], r.Amount)
	h.Write(u[:])
	binary.LittleEndian.PutUint64(u[:], r.Epoch)
	h.Write(u[:])
	h.Write(r.Nonce[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ReceiptRoot builds the Merkle root over a receipt batch. An empty batch
// yields the all-zero root, which the proof binder rejects downstream.
func ReceiptRoot(receipts []Receipt) [32]byte {
	leaves := make([][]byte, len(receipts))
	for i, r := range receipts {
		c := r.Commitment()
		leaves[i] = c[:]
	}
	return merkle.Root(leaves)
}

// TotalAmount sums a batch's receipt values.
func TotalAmount(receipts []Receipt) uint64 {
	var total uint64
	for _, r := range receipts {
		total += r.Amount
	}
	return total
}
