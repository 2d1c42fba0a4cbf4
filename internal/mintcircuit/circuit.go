// circuit.go - Groth16 circuit for the minting proof public-input contract.
//
// Proves knowledge of (merkle_root, amount, epoch) binding to a public MiMC
// commitment. This is the zk-SNARK collaborator behind the proofbind.Binder
// contract; the circuit is deliberately small so quorum members can verify
// batches cheaply.

package mintcircuit

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"

	"veilmint/internal/proofbind"
)

// Circuit binds the minting batch fields to a public commitment.
// Commitment = MiMC(merkle_root || amount || epoch).
type Circuit struct {
	// ====== PUBLIC VARIABLES ======
	Commitment frontend.Variable `gnark:",public"`

	// ====== PRIVATE VARIABLES ======
	MerkleRoot frontend.Variable
	Amount     frontend.Variable
	Epoch      frontend.Variable
}

// Define implements the binding constraint.
func (c *Circuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.MerkleRoot)
	hasher.Write(c.Amount)
	hasher.Write(c.Epoch)
	api.AssertIsEqual(c.Commitment, hasher.Sum())
	return nil
}

// Compile builds the constraint system over BLS12-377.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit Circuit
	return frontend.Compile(ecc.BLS12_377.ScalarField(), r1cs.NewBuilder, &circuit)
}

// Commit computes the native commitment matching the in-circuit hash.
// The Merkle root is reduced into the scalar field before hashing, the
// same reduction the witness assignment applies.
func Commit(input proofbind.ProofInput) *big.Int {
	h := mimcNative.NewMiMC()

	var root bls12377_fr.Element
	root.SetBytes(input.MerkleRoot[:])
	rootBytes := root.Bytes()
	h.Write(rootBytes[:])

	var amount bls12377_fr.Element
	amount.SetUint64(input.Amount)
	amountBytes := amount.Bytes()
	h.Write(amountBytes[:])

	var epoch bls12377_fr.Element
	epoch.SetUint64(input.Epoch)
	epochBytes := epoch.Bytes()
	h.Write(epochBytes[:])

	return new(big.Int).SetBytes(h.Sum(nil))
}

// assignment builds a full witness for the given input.
func assignment(input proofbind.ProofInput) *Circuit {
	rootValue := new(big.Int).SetBytes(input.MerkleRoot[:])
	rootValue.Mod(rootValue, bls12377_fr.Modulus())
	return &Circuit{
		Commitment: Commit(input),
		MerkleRoot: rootValue,
		Amount:     new(big.Int).SetUint64(input.Amount),
		Epoch:      new(big.Int).SetUint64(input.Epoch),
	}
}
