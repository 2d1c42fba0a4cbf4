package store

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilmint/internal/nullifier"
	"veilmint/internal/token"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "veilmint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func randomNullifier(t *testing.T) nullifier.Nullifier {
	t.Helper()
	var n nullifier.Nullifier
	_, err := rand.Read(n[:])
	require.NoError(t, err)
	return n
}

func TestFilterSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	set := nullifier.NewSet()
	ns := make([]nullifier.Nullifier, 0, 50)
	for i := 0; i < 50; i++ {
		n := randomNullifier(t)
		set.Insert(n)
		ns = append(ns, n)
	}

	require.NoError(t, s.SaveFilterSnapshot(12, set))

	restored, err := s.LoadFilterSnapshot(12)
	require.NoError(t, err)
	assert.Equal(t, set.StateHash(), restored.StateHash())
	assert.Equal(t, set.Count(), restored.Count())
	for _, n := range ns {
		assert.True(t, restored.Contains(n))
	}
}

func TestLoadMissingSnapshot(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadFilterSnapshot(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestFilterSnapshot(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.LatestFilterSnapshot()
	assert.ErrorIs(t, err, ErrNotFound)

	early := nullifier.NewSet()
	early.Insert(randomNullifier(t))
	require.NoError(t, s.SaveFilterSnapshot(5, early))

	late := nullifier.NewSet()
	late.Insert(randomNullifier(t))
	late.Insert(randomNullifier(t))
	require.NoError(t, s.SaveFilterSnapshot(9, late))

	got, epoch, err := s.LatestFilterSnapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), epoch)
	assert.Equal(t, late.StateHash(), got.StateHash())
}

func TestIssuanceRecords(t *testing.T) {
	s := openTestStore(t)

	var root1, root2 [32]byte
	root1[0] = 1
	root2[0] = 2

	rec1 := &token.IssuanceRecord{Epoch: 42, Amount: 1_000_000, ReceiptRoot: root1, Proof: []byte{1, 2, 3}, TokenCount: 4}
	rec2 := &token.IssuanceRecord{Epoch: 42, Amount: 250_000, ReceiptRoot: root2, Proof: []byte{4, 5, 6}, TokenCount: 1}
	rec3 := &token.IssuanceRecord{Epoch: 43, Amount: 100, ReceiptRoot: root1, TokenCount: 1}

	require.NoError(t, s.SaveIssuance(rec1))
	require.NoError(t, s.SaveIssuance(rec2))
	require.NoError(t, s.SaveIssuance(rec3))

	got, err := s.IssuancesForEpoch(42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []*token.IssuanceRecord{rec1, rec2}, got)

	empty, err := s.IssuancesForEpoch(41)
	require.NoError(t, err)
	assert.Empty(t, empty)

	total, err := s.TotalMinted()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_250_100), total)
}
