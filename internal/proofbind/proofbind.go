// proofbind.go - Proof-of-correct-minting commitment.
//
// Binds a batch's receipt Merkle root, total amount, and epoch into a
// tamper-evident value. The production proof system is a zk-SNARK (see
// internal/mintcircuit); the Binder interface is the swap point, and any
// backend must stay deterministic given its inputs and unforgeable without
// the proving key.

package proofbind

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// bindDomain separates the binding hash from every other BLAKE2b use.
const bindDomain = "veilmint/minting-proof/v1"

// ProofSize is the byte length of a commitment proof.
const ProofSize = 32

var (
	// ErrZeroAmount rejects a zero-value batch before any proof work.
	ErrZeroAmount = errors.New("minting proof rejected: zero amount")
	// ErrZeroRoot rejects the all-zero Merkle root sentinel (empty batch).
	ErrZeroRoot = errors.New("minting proof rejected: all-zero merkle root")
)

// ProofInput is the public-input contract shared with external auditors:
// a proof is a function of exactly these three fields.
type ProofInput struct {
	MerkleRoot [32]byte
	Amount     uint64
	Epoch      uint64
}

// Proof is an opaque binding over a ProofInput.
type Proof []byte

// Binder generates and checks minting proofs. Implemented here by the
// keyed-commitment binder and by the Groth16 collaborator in
// internal/mintcircuit.
type Binder interface {
	Generate(input ProofInput) (Proof, error)
	Verify(proof Proof, input ProofInput) bool
}

// CommitmentBinder is the keyed-hash binding backend. The key plays the
// role of the proving key: without it the commitment is unforgeable, and
// with it generation is byte-for-byte deterministic.
type CommitmentBinder struct {
	key []byte
}

// NewCommitmentBinder creates a binder from a proving key.
func NewCommitmentBinder(key []byte) (*CommitmentBinder, error) {
	if len(key) == 0 {
		return nil, errors.New("proof binder requires a non-empty proving key")
	}
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("proving key too long: %d bytes, max %d", len(key), blake2b.Size)
	}
	return &CommitmentBinder{key: append([]byte(nil), key...)}, nil
}

// Generate binds (merkle_root, amount, epoch). Zero amount and zero root
// indicate a malformed or empty batch and fail fast.
func (b *CommitmentBinder) Generate(input ProofInput) (Proof, error) {
	if input.Amount == 0 {
		return nil, ErrZeroAmount
	}
	if input.MerkleRoot == ([32]byte{}) {
		return nil, ErrZeroRoot
	}
	return b.bind(input), nil
}

// Verify recomputes the binding over the public inputs and compares. It is
// a boundary-facing predicate: any malformation returns false, never an
// error or a panic, since the inputs may be adversarial.
func (b *CommitmentBinder) Verify(proof Proof, input ProofInput) bool {
	if len(proof) != ProofSize {
		return false
	}
	if input.Amount == 0 || input.MerkleRoot == ([32]byte{}) {
		return false
	}
	return subtle.ConstantTimeCompare(proof, b.bind(input)) == 1
}

func (b *CommitmentBinder) bind(input ProofInput) Proof {
	h, _ := blake2b.New256(b.key)
	h.Write([]byte(bindDomain))
	h.Write(input.MerkleRoot[:])
	var u [8]byte
	binary.LittleEndian.PutUint64(u[:], input.Amount)
	h.Write(u[:])
	binary.LittleEndian.PutUint64(u[:], input.Epoch)
	h.Write(u[:])
	return h.Sum(nil)
}
