package nullifier

import (
	"crypto/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomNullifier(t *testing.T) Nullifier {
	t.Helper()
	var n Nullifier
	_, err := rand.Read(n[:])
	require.NoError(t, err)
	return n
}

func TestDeriveDeterministic(t *testing.T) {
	serial := []byte("serial-0001")
	secret := []byte("spend-secret-0001")

	n1 := Derive(serial, secret)
	n2 := Derive(serial, secret)
	assert.Equal(t, n1, n2, "same token must derive the same nullifier")

	n3 := Derive(serial, []byte("spend-secret-0002"))
	assert.NotEqual(t, n1, n3, "different secrets must derive different nullifiers")

	n4 := Derive([]byte("serial-0002"), secret)
	assert.NotEqual(t, n1, n4, "different serials must derive different nullifiers")
}

func TestFromBytes(t *testing.T) {
	n := randomNullifier(t)
	parsed, err := FromBytes(n[:])
	require.NoError(t, err)
	assert.Equal(t, n, parsed)

	_, err = FromBytes(n[:31])
	assert.Error(t, err)
}

func TestNoFalseNegatives(t *testing.T) {
	s := NewSet()
	inserted := make([]Nullifier, 0, 1000)
	for i := 0; i < 1000; i++ {
		n := randomNullifier(t)
		s.Insert(n)
		inserted = append(inserted, n)
	}
	for _, n := range inserted {
		assert.True(t, s.Contains(n), "inserted nullifier must always be contained")
	}
}

func TestInsertCheckedDoubleSpend(t *testing.T) {
	s := NewSet()
	n := randomNullifier(t)

	require.NoError(t, s.InsertChecked(n))
	for i := 0; i < 3; i++ {
		err := s.InsertChecked(n)
		assert.ErrorIs(t, err, ErrDoubleSpend)
	}
}

func TestInsertCheckedConcurrent(t *testing.T) {
	s := NewSet()
	n := randomNullifier(t)

	const workers = 32
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.InsertChecked(n) == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	won := 0
	for range successes {
		won++
	}
	assert.Equal(t, 1, won, "exactly one concurrent spend of the same nullifier may succeed")
}

func TestCount(t *testing.T) {
	s := NewSet()
	n := randomNullifier(t)
	s.Insert(n)
	s.Insert(n) // re-insert of the same value is not a new insertion
	assert.Equal(t, uint64(1), s.Count())

	s.Insert(randomNullifier(t))
	assert.Equal(t, uint64(2), s.Count())
}

func TestClear(t *testing.T) {
	s := NewSet()
	n := randomNullifier(t)
	s.Insert(n)
	require.True(t, s.Contains(n))

	s.Clear()
	assert.False(t, s.Contains(n))
	assert.Equal(t, uint64(0), s.Count())
}

func TestStateHash(t *testing.T) {
	a := NewSet()
	b := NewSet()
	assert.Equal(t, a.StateHash(), b.StateHash(), "empty filters agree")

	n1 := randomNullifier(t)
	n2 := randomNullifier(t)

	// Same nullifiers, different arrival order: bits are identical.
	a.Insert(n1)
	a.Insert(n2)
	b.Insert(n2)
	b.Insert(n1)
	assert.Equal(t, a.StateHash(), b.StateHash())

	b.Insert(randomNullifier(t))
	assert.NotEqual(t, a.StateHash(), b.StateHash())
}

func TestFalsePositiveRate(t *testing.T) {
	s := NewSet()
	assert.Equal(t, 0.0, s.FalsePositiveRate())

	prev := 0.0
	for i := 0; i < 5000; i++ {
		s.Insert(randomNullifier(t))
	}
	rate := s.FalsePositiveRate()
	assert.Greater(t, rate, prev)
	assert.Less(t, rate, 1e-6, "filter is far from saturation at 5k entries")
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewSet()
	inserted := make([]Nullifier, 0, 100)
	for i := 0; i < 100; i++ {
		n := randomNullifier(t)
		s.Insert(n)
		inserted = append(inserted, n)
	}

	data, err := s.Bytes()
	require.NoError(t, err)

	restored, err := SetFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, s.Count(), restored.Count())
	assert.Equal(t, s.StateHash(), restored.StateHash())
	for _, n := range inserted {
		assert.True(t, restored.Contains(n))
	}

	_, err = SetFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}
