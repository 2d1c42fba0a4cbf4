package mint

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilmint/internal/gossip"
	"veilmint/internal/nullifier"
	"veilmint/internal/proofbind"
	"veilmint/internal/throttle"
	"veilmint/internal/token"
	"veilmint/internal/voprf"
)

func testOrchestrator(t *testing.T, publish PublishFunc) (*Orchestrator, *nullifier.Set) {
	t.Helper()
	binder, err := proofbind.NewCommitmentBinder([]byte("quorum-proving-key"))
	require.NoError(t, err)
	key, err := voprf.KeyGen()
	require.NoError(t, err)

	set := nullifier.NewSet()
	var senderID [32]byte
	_, err = rand.Read(senderID[:])
	require.NoError(t, err)

	return NewOrchestrator(binder, &LocalEvaluator{Key: key}, set, senderID, publish), set
}

func testReceipts(t *testing.T, epoch uint64, amounts ...uint64) []token.Receipt {
	t.Helper()
	var provider [32]byte
	provider[0] = 0x42
	receipts := make([]token.Receipt, 0, len(amounts))
	for _, a := range amounts {
		r, err := token.NewReceipt(provider, a, epoch)
		require.NoError(t, err)
		receipts = append(receipts, r)
	}
	return receipts
}

func TestMintEndToEnd(t *testing.T) {
	var published []*gossip.Batch
	orch, set := testOrchestrator(t, func(b *gossip.Batch) { published = append(published, b) })

	const epoch = uint64(42)
	receipts := testReceipts(t, epoch, 600_000, 400_000)

	batch, err := orch.NewBatch(receipts, epoch)
	require.NoError(t, err)
	require.Equal(t, StateReceiptsAccumulated, batch.State())

	cr := throttle.ComputeCR(1_000_000, 1_000_000) // cr = 1.0, full rate
	record, err := orch.Mint(context.Background(), batch, cr, 4)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, batch.State())

	// The issuance record binds exactly (root, amount, epoch).
	assert.Equal(t, uint64(1_000_000), record.Amount)
	assert.Equal(t, epoch, record.Epoch)
	assert.Equal(t, token.ReceiptRoot(receipts), record.ReceiptRoot)
	assert.Equal(t, 4, record.TokenCount)

	tokens := batch.Tokens()
	require.Len(t, tokens, 4)

	// Spend path: first spend succeeds and gossips, replay fails.
	n, err := orch.Spend(tokens[0], epoch)
	require.NoError(t, err)
	assert.True(t, set.Contains(n))
	require.Len(t, published, 1)
	assert.Equal(t, []nullifier.Nullifier{n}, published[0].Nullifiers)

	_, err = orch.Spend(tokens[0], epoch)
	assert.ErrorIs(t, err, nullifier.ErrDoubleSpend)
	assert.Len(t, published, 1, "a rejected spend is never gossiped")

	// A second replica that merges the gossip also rejects the same spend.
	replica := nullifier.NewSet()
	fresh := gossip.Merge(published[0], replica)
	assert.Len(t, fresh, 1)
	assert.ErrorIs(t, replica.InsertChecked(n), nullifier.ErrDoubleSpend)
}

func TestMintThrottledFailsClosed(t *testing.T) {
	orch, _ := testOrchestrator(t, nil)

	batch, err := orch.NewBatch(testReceipts(t, 7, 1_000_000), 7)
	require.NoError(t, err)

	cr := throttle.ComputeCR(1_000_000, 750_000) // cr = 0.75, half rate
	_, err = orch.Mint(context.Background(), batch, cr, 2)

	var throttled *throttle.ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, uint64(1_000_000), throttled.Requested)
	assert.Equal(t, uint64(500_000), throttled.MaxAllowed)

	assert.NotEqual(t, StateCommitted, batch.State(), "a throttled batch never commits")
	assert.Nil(t, batch.Tokens())
	assert.Nil(t, batch.Record())
}

func TestMintBatchValidation(t *testing.T) {
	orch, _ := testOrchestrator(t, nil)

	_, err := orch.NewBatch(nil, 1)
	assert.Error(t, err, "empty receipt batches are rejected")

	batch, err := orch.NewBatch(testReceipts(t, 1, 100), 1)
	require.NoError(t, err)
	_, err = orch.Mint(context.Background(), batch, throttle.ComputeCR(0, 0), 0)
	assert.Error(t, err, "token count must be positive")
}

func TestMintCannotRestartCommittedBatch(t *testing.T) {
	orch, _ := testOrchestrator(t, nil)

	batch, err := orch.NewBatch(testReceipts(t, 3, 100), 3)
	require.NoError(t, err)

	cr := throttle.ComputeCR(0, 0) // nothing minted yet: MAX_CR
	_, err = orch.Mint(context.Background(), batch, cr, 1)
	require.NoError(t, err)

	_, err = orch.Mint(context.Background(), batch, cr, 1)
	assert.Error(t, err, "Committed is terminal")
}

func TestMintedTokensAreDistinct(t *testing.T) {
	orch, _ := testOrchestrator(t, nil)

	batch, err := orch.NewBatch(testReceipts(t, 5, 500), 5)
	require.NoError(t, err)

	_, err = orch.Mint(context.Background(), batch, throttle.ComputeCR(0, 0), 8)
	require.NoError(t, err)

	seen := make(map[[32]byte]bool)
	for _, tok := range batch.Tokens() {
		assert.False(t, seen[tok.Serial], "token serials are unique")
		seen[tok.Serial] = true
	}
}

func TestConcurrentSpendsOfSameToken(t *testing.T) {
	orch, _ := testOrchestrator(t, nil)

	batch, err := orch.NewBatch(testReceipts(t, 9, 100), 9)
	require.NoError(t, err)
	_, err = orch.Mint(context.Background(), batch, throttle.ComputeCR(0, 0), 1)
	require.NoError(t, err)
	tok := batch.Tokens()[0]

	const workers = 16
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := orch.Spend(tok, 9)
			results <- err
		}()
	}

	succeeded := 0
	for i := 0; i < workers; i++ {
		if <-results == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent spend wins")
}
