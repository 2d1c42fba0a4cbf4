// batch.go - Wire shape of a nullifier gossip batch.
//
// The transport layer (onion routing, peer discovery) is an external
// collaborator; this package only defines the message shape and the
// idempotent-merge contract. Sender integrity is the transport's problem.

package gossip

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"veilmint/internal/nullifier"
)

// Batch is a gossip message carrying spent-token nullifiers observed by a peer.
type Batch struct {
	Nullifiers []nullifier.Nullifier `cbor:"1,keyasint"`
	Epoch      uint64                `cbor:"2,keyasint"`
	SenderID   [32]byte              `cbor:"3,keyasint"`
}

// encMode is the deterministic CBOR encoder shared by all batches, so the
// same batch always encodes to the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes the batch for the network layer.
func (b *Batch) Encode() ([]byte, error) {
	data, err := encMode.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gossip batch: %w", err)
	}
	return data, nil
}

// DecodeBatch parses a batch received from the network layer.
func DecodeBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode gossip batch: %w", err)
	}
	return &b, nil
}
