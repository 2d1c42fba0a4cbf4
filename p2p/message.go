// message.go - Message envelope and payloads for nullifier gossip.
//
// The envelope is a generic {type, payload, senderId} JSON frame; binary
// payloads (CBOR batches, hashes) ride inside as base64 via encoding/json.
// This layer performs no sender authentication: transport integrity is the
// onion/overlay collaborator's job, this node only deduplicates and merges.

package p2p

import "encoding/json"

// Message types understood by every node.
const (
	TypeNullifierBatch     = "nullifier_batch"
	TypeFilterState        = "filter_state"
	TypeFilterStateRequest = "filter_state_request"
	TypePing               = "ping"
	TypePong               = "pong"
)

// Message is the generic envelope for any message sent over the network.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// NullifierBatchPayload carries a CBOR-encoded gossip batch.
type NullifierBatchPayload struct {
	SenderID string `json:"senderId"`
	Batch    []byte `json:"batch"`
}

// FilterStatePayload reports a replica's filter digest for epoch snapshot
// agreement: two replicas that merged the same spends report the same hash.
type FilterStatePayload struct {
	SenderID  string `json:"senderId"`
	Epoch     uint64 `json:"epoch"`
	StateHash []byte `json:"stateHash"`
	Count     uint64 `json:"count"`
}

// FilterStateRequestPayload asks a peer for its current filter digest.
type FilterStateRequestPayload struct {
	SenderID string `json:"senderId"`
	Epoch    uint64 `json:"epoch"`
}

// PingPayload and PongPayload implement the liveness probe.
type PingPayload struct {
	SenderID string `json:"senderId"`
}

type PongPayload struct {
	SenderID string `json:"senderId"`
}
