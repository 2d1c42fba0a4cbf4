package p2p

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"veilmint/internal/gossip"
	"veilmint/internal/nullifier"
)

// HandlerFunc processes one inbound message on top of the built-in types.
type HandlerFunc func(n *Node, msg Message)

// RateLimitFunc gates inbound messages per sender; returning false drops
// the message. May be nil.
type RateLimitFunc func(senderID string) bool

// Node is a gossip replica in the network. It owns the process-local
// nullifier set, merges inbound batches into it, and re-broadcasts only the
// newly-seen nullifiers so redundant gossip dies out instead of echoing.
type Node struct {
	ID      string
	Address string
	Peers   map[string]string // Map of node ID to its address

	server    *http.Server
	waitGroup *sync.WaitGroup
	log       zerolog.Logger

	set   *nullifier.Set
	epoch func() uint64

	handlerMutex sync.RWMutex
	handlers     map[string]HandlerFunc

	healthMutex sync.Mutex
	health      map[string]bool

	// Filter digests most recently reported by peers, for epoch snapshot
	// agreement checks.
	stateMutex sync.Mutex
	peerStates map[string]FilterStatePayload

	limit RateLimitFunc
}

// NewNode creates and initializes a new Node around a local nullifier set.
// epoch supplies the current epoch for outbound batches.
func NewNode(id, address string, peers map[string]string, set *nullifier.Set, epoch func() uint64, logger zerolog.Logger, wg *sync.WaitGroup) *Node {
	return &Node{
		ID:         id,
		Address:    address,
		Peers:      peers,
		waitGroup:  wg,
		log:        logger.With().Str("node", id).Logger(),
		set:        set,
		epoch:      epoch,
		handlers:   make(map[string]HandlerFunc),
		health:     make(map[string]bool),
		peerStates: make(map[string]FilterStatePayload),
	}
}

// SetRateLimiter installs an inbound rate-limit hook.
func (n *Node) SetRateLimiter(limit RateLimitFunc) {
	n.limit = limit
}

// SenderID derives the node's 32-byte gossip identity from its string ID.
func (n *Node) SenderID() [32]byte {
	return blake2b.Sum256([]byte(n.ID))
}

// Set exposes the node's local nullifier set.
func (n *Node) Set() *nullifier.Set {
	return n.set
}

// RegisterHandler attaches a handler for a custom message type. Built-in
// types cannot be overridden.
func (n *Node) RegisterHandler(messageType string, handler HandlerFunc) {
	n.handlerMutex.Lock()
	defer n.handlerMutex.Unlock()
	n.handlers[messageType] = handler
}

// messageHandler is the HTTP handler for receiving messages. It decodes the
// envelope and processes the payload based on its type.
func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		n.log.Warn().Err(err).Msg("received a bad request")
		return
	}

	if n.limit != nil && !n.limit(msg.SenderID) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	n.log.Debug().Str("type", msg.Type).Str("from", msg.SenderID).Msg("received message")

	switch msg.Type {
	case TypeNullifierBatch:
		var payload NullifierBatchPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			n.log.Warn().Err(err).Msg("error unmarshalling NullifierBatchPayload")
			break
		}
		n.handleNullifierBatch(payload)

	case TypeFilterStateRequest:
		var payload FilterStateRequestPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			n.log.Warn().Err(err).Msg("error unmarshalling FilterStateRequestPayload")
			break
		}
		n.handleFilterStateRequest(payload)

	case TypeFilterState:
		var payload FilterStatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			n.log.Warn().Err(err).Msg("error unmarshalling FilterStatePayload")
			break
		}
		n.stateMutex.Lock()
		n.peerStates[payload.SenderID] = payload
		n.stateMutex.Unlock()

	case TypePing:
		var payload PingPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			break
		}
		go func() {
			if err := n.SendMessage(payload.SenderID, TypePong, PongPayload{SenderID: n.ID}); err != nil {
				n.log.Warn().Err(err).Str("peer", payload.SenderID).Msg("failed to send pong")
			}
		}()

	case TypePong:
		var payload PongPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			break
		}
		n.healthMutex.Lock()
		n.health[payload.SenderID] = true
		n.healthMutex.Unlock()

	default:
		n.handlerMutex.RLock()
		handler, ok := n.handlers[msg.Type]
		n.handlerMutex.RUnlock()
		if ok {
			handler(n, msg)
		} else {
			n.log.Warn().Str("type", msg.Type).Msg("received unknown message type")
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Message received")
}

// handleNullifierBatch merges an inbound batch into the local set and
// re-broadcasts only the newly-seen nullifiers. Gossip processing never
// errors: malformed or duplicate entries are absorbed.
func (n *Node) handleNullifierBatch(payload NullifierBatchPayload) {
	batch, err := gossip.DecodeBatch(payload.Batch)
	if err != nil {
		n.log.Warn().Err(err).Str("from", payload.SenderID).Msg("dropping undecodable gossip batch")
		return
	}

	fresh := gossip.Merge(batch, n.set)
	n.log.Debug().
		Str("from", payload.SenderID).
		Int("received", len(batch.Nullifiers)).
		Int("fresh", len(fresh)).
		Msg("merged gossip batch")
	if len(fresh) == 0 {
		return
	}

	relay := &gossip.Batch{
		Nullifiers: fresh,
		Epoch:      batch.Epoch,
		SenderID:   n.SenderID(),
	}
	go n.broadcastBatch(relay, payload.SenderID)
}

// handleFilterStateRequest answers with the local filter digest.
func (n *Node) handleFilterStateRequest(payload FilterStateRequestPayload) {
	hash := n.set.StateHash()
	response := FilterStatePayload{
		SenderID:  n.ID,
		Epoch:     n.epoch(),
		StateHash: hash[:],
		Count:     n.set.Count(),
	}
	go func() {
		if err := n.SendMessage(payload.SenderID, TypeFilterState, response); err != nil {
			n.log.Warn().Err(err).Str("peer", payload.SenderID).Msg("failed to send filter state")
		}
	}()
}

// PublishNullifiers gossips a locally produced batch to every peer. Wired
// as the mint orchestrator's outbound hook.
func (n *Node) PublishNullifiers(batch *gossip.Batch) {
	n.broadcastBatch(batch, "")
}

func (n *Node) broadcastBatch(batch *gossip.Batch, excludePeer string) {
	data, err := batch.Encode()
	if err != nil {
		n.log.Error().Err(err).Msg("failed to encode gossip batch")
		return
	}
	payload := NullifierBatchPayload{SenderID: n.ID, Batch: data}
	for peerID := range n.Peers {
		if peerID == n.ID || peerID == excludePeer {
			continue
		}
		if err := n.SendMessage(peerID, TypeNullifierBatch, payload); err != nil {
			n.log.Warn().Err(err).Str("peer", peerID).Msg("failed to gossip batch")
		}
	}
}

// Broadcast sends a message of the given type to every known peer.
func (n *Node) Broadcast(messageType string, payload interface{}) {
	for peerID := range n.Peers {
		if peerID == n.ID {
			continue
		}
		if err := n.SendMessage(peerID, messageType, payload); err != nil {
			n.log.Warn().Err(err).Str("peer", peerID).Msg("broadcast send failed")
		}
	}
}

// RequestFilterStates asks every peer for its filter digest.
func (n *Node) RequestFilterStates() {
	n.Broadcast(TypeFilterStateRequest, FilterStateRequestPayload{SenderID: n.ID, Epoch: n.epoch()})
}

// PeerFilterState returns the digest last reported by a peer.
func (n *Node) PeerFilterState(peerID string) (FilterStatePayload, bool) {
	n.stateMutex.Lock()
	defer n.stateMutex.Unlock()
	state, ok := n.peerStates[peerID]
	return state, ok
}

// HealthCheck pings every peer; pongs mark them healthy.
func (n *Node) HealthCheck() {
	n.healthMutex.Lock()
	for peerID := range n.Peers {
		if peerID != n.ID {
			n.health[peerID] = false
		}
	}
	n.healthMutex.Unlock()
	n.Broadcast(TypePing, PingPayload{SenderID: n.ID})
}

// PeerHealthy reports the last known liveness of a peer.
func (n *Node) PeerHealthy(peerID string) bool {
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	return n.health[peerID]
}

// StartServer starts the node's HTTP server in a new goroutine.
// It signals on the 'ready' channel once the server is actively listening.
func (n *Node) StartServer(ready chan<- struct{}) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", n.messageHandler)

	n.server = &http.Server{
		Addr:    n.Address,
		Handler: mux,
	}

	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.Address, err)
	}

	n.waitGroup.Add(1)
	go func() {
		defer n.waitGroup.Done()
		n.log.Info().Str("address", n.Address).Msg("server starting")

		ready <- struct{}{}

		if err := n.server.Serve(listener); err != http.ErrServerClosed {
			n.log.Error().Err(err).Msg("server failed")
		}
		n.log.Info().Msg("server stopped")
	}()
	return nil
}

// Stop shuts the node's server down.
func (n *Node) Stop() error {
	if n.server == nil {
		return nil
	}
	return n.server.Close()
}

// SendMessage sends a message to another node in the network.
// The payload can be any struct that is marshallable to JSON.
func (n *Node) SendMessage(targetID, messageType string, payload interface{}) error {
	targetAddress, ok := n.Peers[targetID]
	if !ok {
		return fmt.Errorf("peer '%s' not found in directory", targetID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %v", err)
	}

	msg := Message{
		Type:     messageType,
		Payload:  payloadBytes,
		SenderID: n.ID,
	}

	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message envelope: %v", err)
	}

	req, err := http.NewRequest("POST", "http://"+targetAddress+"/message", bytes.NewBuffer(messageBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer returned non-OK status: %s", resp.Status)
	}

	return nil
}
