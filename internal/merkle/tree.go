// tree.go - Epoch-prunable Merkle accumulator of refund commitments.
//
// Entries are appended when a refund is issued and pruned once their epoch
// falls behind the retention horizon. The root is rebuilt from the current
// entry set on demand: roots are only needed once per epoch for audit
// snapshots, never on the hot spend path, so incremental maintenance would
// buy nothing.

package merkle

import (
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Domain-separation tags for leaf and interior hashing.
const (
	leafTag = 0x00
	nodeTag = 0x01
)

// Entry is a refund commitment pinned to the epoch it was issued in.
type Entry struct {
	Commitment [32]byte
	Epoch      uint64
}

// RefundTree is an ordered, append-only sequence of refund commitments with
// a derived Merkle root. Safe for concurrent use.
type RefundTree struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRefundTree creates an empty tree.
func NewRefundTree() *RefundTree {
	return &RefundTree{}
}

// Add appends a refund commitment for the given epoch.
func (t *RefundTree) Add(commitment [32]byte, epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Commitment: commitment, Epoch: epoch})
}

// Root recomputes the Merkle root over the current entries. The empty tree
// yields the all-zero hash.
func (t *RefundTree) Root() [32]byte {
	t.mu.Lock()
	leaves := make([][]byte, len(t.entries))
	for i, e := range t.entries {
		c := e.Commitment
		leaves[i] = c[:]
	}
	t.mu.Unlock()
	return Root(leaves)
}

// PruneEpoch removes every entry with epoch <= e and returns how many were
// removed. The root changes on its next computation.
func (t *RefundTree) PruneEpoch(e uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.entries[:0]
	for _, entry := range t.entries {
		if entry.Epoch > e {
			kept = append(kept, entry)
		}
	}
	removed := len(t.entries) - len(kept)
	t.entries = kept
	return removed
}

// Contains reports whether the commitment is present. Membership is a
// linear scan; tree recomputation is only needed for the root.
func (t *RefundTree) Contains(commitment [32]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.Commitment == commitment {
			return true
		}
	}
	return false
}

// Len returns the current number of entries.
func (t *RefundTree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Root builds a binary Merkle root bottom-up over the given leaves using
// domain-separated BLAKE2b-256 pairwise hashing, duplicating the last node
// when a layer has odd length. An empty leaf set yields the all-zero hash.
// Shared by the refund tree and the receipt accumulation on the mint path.
func Root(leaves [][]byte) [32]byte {
	var root [32]byte
	if len(leaves) == 0 {
		return root
	}

	layer := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		layer[i] = hashLeaf(leaf)
	}
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := layer[:len(layer)/2]
		for i := 0; i < len(layer); i += 2 {
			next[i/2] = hashNode(layer[i], layer[i+1])
		}
		layer = next
	}
	return layer[0]
}

func hashLeaf(data []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{leafTag})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hashNode(left, right [32]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{nodeTag})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
