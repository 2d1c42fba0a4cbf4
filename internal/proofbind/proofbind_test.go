package proofbind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBinder(t *testing.T) *CommitmentBinder {
	t.Helper()
	b, err := NewCommitmentBinder([]byte("test-proving-key"))
	require.NoError(t, err)
	return b
}

func testInput() ProofInput {
	var root [32]byte
	for i := range root {
		root[i] = 0xAA
	}
	return ProofInput{MerkleRoot: root, Amount: 1_000_000, Epoch: 42}
}

func TestNewCommitmentBinder(t *testing.T) {
	_, err := NewCommitmentBinder(nil)
	assert.Error(t, err)

	_, err = NewCommitmentBinder(make([]byte, 65))
	assert.Error(t, err)
}

func TestGenerateDeterministic(t *testing.T) {
	b := testBinder(t)
	input := testInput()

	p1, err := b.Generate(input)
	require.NoError(t, err)
	p2, err := b.Generate(input)
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "identical inputs must yield byte-identical proofs")
	assert.Len(t, p1, ProofSize)
}

func TestGenerateRejectsMalformed(t *testing.T) {
	b := testBinder(t)

	zeroAmount := testInput()
	zeroAmount.Amount = 0
	_, err := b.Generate(zeroAmount)
	assert.ErrorIs(t, err, ErrZeroAmount)

	zeroRoot := testInput()
	zeroRoot.MerkleRoot = [32]byte{}
	_, err = b.Generate(zeroRoot)
	assert.ErrorIs(t, err, ErrZeroRoot)
}

func TestAnyFieldChangeInvalidatesProof(t *testing.T) {
	b := testBinder(t)
	input := testInput()

	proof, err := b.Generate(input)
	require.NoError(t, err)
	require.True(t, b.Verify(proof, input))

	rootChanged := input
	rootChanged.MerkleRoot[0] ^= 0x01
	assert.False(t, b.Verify(proof, rootChanged))

	amountChanged := input
	amountChanged.Amount++
	assert.False(t, b.Verify(proof, amountChanged))

	epochChanged := input
	epochChanged.Epoch++
	assert.False(t, b.Verify(proof, epochChanged))

	// And the altered inputs produce different proof bytes.
	other, err := b.Generate(amountChanged)
	require.NoError(t, err)
	assert.NotEqual(t, proof, other)
}

func TestVerifyBoundaryPredicate(t *testing.T) {
	b := testBinder(t)
	input := testInput()
	proof, err := b.Generate(input)
	require.NoError(t, err)

	assert.False(t, b.Verify(nil, input))
	assert.False(t, b.Verify(proof[:16], input))
	assert.False(t, b.Verify(append(Proof{}, make([]byte, ProofSize)...), input))

	malformed := input
	malformed.Amount = 0
	assert.False(t, b.Verify(proof, malformed))
}

func TestDifferentKeysDifferentProofs(t *testing.T) {
	b1 := testBinder(t)
	b2, err := NewCommitmentBinder([]byte("another-proving-key"))
	require.NoError(t, err)

	input := testInput()
	p1, err := b1.Generate(input)
	require.NoError(t, err)
	p2, err := b2.Generate(input)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.False(t, b2.Verify(p1, input), "a proof is unforgeable without the proving key")
}
