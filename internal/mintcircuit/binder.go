// binder.go - Groth16 backend for the proofbind.Binder contract, plus
// proving/verifying key persistence.

package mintcircuit

import (
	"bytes"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"veilmint/internal/proofbind"
)

// Binder proves and verifies minting batches with Groth16. Unlike the
// keyed-commitment binder, proof bytes vary run to run (the prover is
// randomized); validity against the public inputs is what is deterministic.
// Used on the audit path, where a verifier holds only the verifying key.
type Binder struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewBinder wraps a compiled circuit and its keys.
func NewBinder(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, vk groth16.VerifyingKey) *Binder {
	return &Binder{ccs: ccs, pk: pk, vk: vk}
}

// Generate proves the binding for a batch. Rejects zero amount and the
// all-zero root before any proving work, like every binder backend.
func (b *Binder) Generate(input proofbind.ProofInput) (proofbind.Proof, error) {
	if input.Amount == 0 {
		return nil, proofbind.ErrZeroAmount
	}
	if input.MerkleRoot == ([32]byte{}) {
		return nil, proofbind.ErrZeroRoot
	}

	witness, err := frontend.NewWitness(assignment(input), ecc.BLS12_377.ScalarField())
	if err != nil {
		return nil, err
	}
	proof, err := groth16.Prove(b.ccs, b.pk, witness)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Verify checks a proof against the public inputs. Boundary predicate:
// any malformation returns false.
func (b *Binder) Verify(proof proofbind.Proof, input proofbind.ProofInput) bool {
	if len(proof) == 0 || input.Amount == 0 || input.MerkleRoot == ([32]byte{}) {
		return false
	}

	public := &Circuit{Commitment: Commit(input)}
	witness, err := frontend.NewWitness(public, ecc.BLS12_377.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false
	}

	parsed := groth16.NewProof(ecc.BLS12_377)
	if _, err := parsed.ReadFrom(bytes.NewReader(proof)); err != nil {
		return false
	}
	return groth16.Verify(parsed, b.vk, witness) == nil
}

// LoadProvingKey reads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BLS12_377)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// SaveProvingKey writes a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// LoadVerifyingKey reads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BLS12_377)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SaveVerifyingKey writes a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// SetupOrLoadKeys generates or loads Groth16 keys for the circuit.
// If keys exist on disk, loads them; otherwise, generates and saves new keys.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}
