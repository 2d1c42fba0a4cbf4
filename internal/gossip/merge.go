// merge.go - Idempotent merge of inbound nullifier batches into the local set.

package gossip

import (
	"veilmint/internal/nullifier"
)

// Merge reconciles an incoming batch against the local filter and returns
// the newly-seen nullifiers, i.e. the ones worth re-broadcasting.
//
// Merge never errors: duplicate or redundant entries are simply absorbed,
// so replaying a batch returns an empty slice and adversarial repetition
// cannot amplify failures across the network. It does not validate that a
// nullifier was legitimately derived; gossip is propagation, not
// authorization. Because Set.Insert is monotonic and order-independent,
// the final filter state does not depend on batch arrival order.
func Merge(batch *Batch, set *nullifier.Set) []nullifier.Nullifier {
	var fresh []nullifier.Nullifier
	for _, n := range batch.Nullifiers {
		if err := set.InsertChecked(n); err == nil {
			fresh = append(fresh, n)
		}
	}
	return fresh
}
