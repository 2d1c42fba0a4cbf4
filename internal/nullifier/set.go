// set.go - Probabilistic set of spent-token nullifiers.
//
// The Set is a fixed-size Bloom filter replicated by gossip instead of agreed
// by consensus. It can return false positives (a legitimate spend is blocked)
// but never false negatives (a double-spend is let through), and that tradeoff
// is load-bearing: do not replace it with any structure that can evict entries.

package nullifier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/crypto/blake2b"
)

const (
	// FilterBits is the fixed width of the bit array (3,400,000 bytes).
	FilterBits = 27_200_000

	// NumHashes is the number of independent bit positions set per nullifier.
	NumHashes = 20
)

// bloomDomain is the domain-separation prefix for bit-position derivation.
// Each of the 20 positions is keyed by its own index byte so the positions
// are independent derivations, not partitions of one digest.
const bloomDomain = "veilmint/nullifier-bloom/v1/"

// ErrDoubleSpend is returned by InsertChecked when the nullifier is already
// present. Retrying does not change the outcome.
var ErrDoubleSpend = errors.New("double-spend detected: nullifier already present")

// Set is the shared double-spend filter. It is mutated by local spends and
// by inbound gossip concurrently, so all access goes through the embedded
// reader-writer lock. Once a nullifier is inserted, Contains reports true
// for it until Clear.
type Set struct {
	mu    sync.RWMutex
	bits  *bitset.BitSet
	count uint64
}

// NewSet creates an empty filter of the fixed network-wide width.
func NewSet() *Set {
	return &Set{
		bits: bitset.New(FilterBits),
	}
}

// positions derives the NumHashes bit positions for a nullifier.
func positions(n Nullifier) [NumHashes]uint {
	var pos [NumHashes]uint
	msg := make([]byte, 0, len(bloomDomain)+1+Size)
	for i := 0; i < NumHashes; i++ {
		msg = msg[:0]
		msg = append(msg, bloomDomain...)
		msg = append(msg, byte(i))
		msg = append(msg, n[:]...)
		h := blake2b.Sum256(msg)
		pos[i] = uint(binary.LittleEndian.Uint64(h[:8]) % FilterBits)
	}
	return pos
}

// Insert marks a nullifier as seen. Side-effect only; cannot fail. A filter
// near saturation silently degrades toward false positives, it never errors.
func (s *Set) Insert(n Nullifier) {
	pos := positions(n)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(pos)
}

// insertLocked sets all bit positions and bumps the insertion counter when
// the nullifier was not already present. Caller holds the write lock.
func (s *Set) insertLocked(pos [NumHashes]uint) {
	present := true
	for _, p := range pos {
		if !s.bits.Test(p) {
			present = false
		}
		s.bits.Set(p)
	}
	if !present {
		s.count++
	}
}

// Contains reports whether the nullifier has (probably) been seen.
// False positives are possible; false negatives are not.
func (s *Set) Contains(n Nullifier) bool {
	pos := positions(n)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(pos)
}

func (s *Set) containsLocked(pos [NumHashes]uint) bool {
	for _, p := range pos {
		if !s.bits.Test(p) {
			return false
		}
	}
	return true
}

// InsertChecked atomically checks then inserts. If two spend attempts for
// the same nullifier race, at most one succeeds: the check and the set
// happen under a single write-lock critical section.
func (s *Set) InsertChecked(n Nullifier) error {
	pos := positions(n)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containsLocked(pos) {
		return ErrDoubleSpend
	}
	s.insertLocked(pos)
	return nil
}

// Count returns the number of distinct insertions observed.
func (s *Set) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Clear empties the filter. This is the only way the set ever shrinks,
// used operationally when rotating a saturated filter.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits.ClearAll()
	s.count = 0
}

// StateHash hashes the raw bit array, used for epoch snapshot agreement
// between replicas: two replicas that merged the same nullifiers hold the
// same bits and therefore the same hash, regardless of arrival order.
func (s *Set) StateHash() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, _ := blake2b.New256(nil)
	var word [8]byte
	for _, w := range s.bits.Bytes() {
		binary.LittleEndian.PutUint64(word[:], w)
		h.Write(word[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// FalsePositiveRate estimates (1 - e^{-kn/m})^k from the insertion count.
// It is an operational signal for filter rotation, not a correctness input.
func (s *Set) FalsePositiveRate() float64 {
	s.mu.RLock()
	n := float64(s.count)
	s.mu.RUnlock()
	k := float64(NumHashes)
	m := float64(FilterBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// Bytes serializes the filter (insertion counter followed by the bit array)
// for periodic persistence by the storage collaborator.
func (s *Set) Bytes() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.bits.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8+len(raw))
	binary.LittleEndian.PutUint64(buf[:8], s.count)
	copy(buf[8:], raw)
	return buf, nil
}

// SetFromBytes reloads a filter serialized by Bytes.
func SetFromBytes(data []byte) (*Set, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("filter snapshot too short: %d bytes", len(data))
	}
	bits := bitset.New(FilterBits)
	if err := bits.UnmarshalBinary(data[8:]); err != nil {
		return nil, fmt.Errorf("failed to decode filter bits: %w", err)
	}
	if bits.Len() != FilterBits {
		return nil, fmt.Errorf("filter width mismatch: got %d bits, want %d", bits.Len(), FilterBits)
	}
	return &Set{
		bits:  bits,
		count: binary.LittleEndian.Uint64(data[:8]),
	}, nil
}
