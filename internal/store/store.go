// store.go - Durable persistence for filter snapshots and issuance records.
//
// The core stays correct entirely in memory; this store is the collaborator
// that carries "already spent" across process restarts by periodically
// serializing the Bloom filter, and that retains issuance records for
// auditors. Backed by pebble with CBOR-framed values.

package store

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"veilmint/internal/nullifier"
	"veilmint/internal/token"
)

// Key prefixes. Big-endian epoch suffixes keep iteration order chronological.
var (
	prefixFilter   = []byte("f/")
	prefixIssuance = []byte("i/")
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("store: not found")

// Store is a pebble-backed record store.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open store")
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "failed to close store")
}

// filterSnapshot frames a serialized filter with its epoch and state hash
// so a loaded snapshot can be cross-checked against peers.
type filterSnapshot struct {
	Epoch     uint64   `cbor:"1,keyasint"`
	StateHash [32]byte `cbor:"2,keyasint"`
	Data      []byte   `cbor:"3,keyasint"`
}

// prefixUpperBound returns the exclusive upper bound covering every key
// under a prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	upper[len(upper)-1]++
	return upper
}

func epochKey(prefix []byte, epoch uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], epoch)
	return key
}

// SaveFilterSnapshot persists the filter state for an epoch.
func (s *Store) SaveFilterSnapshot(epoch uint64, set *nullifier.Set) error {
	data, err := set.Bytes()
	if err != nil {
		return errors.Wrap(err, "failed to serialize filter")
	}
	snap := filterSnapshot{
		Epoch:     epoch,
		StateHash: set.StateHash(),
		Data:      data,
	}
	value, err := cbor.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "failed to encode filter snapshot")
	}
	return errors.Wrap(
		s.db.Set(epochKey(prefixFilter, epoch), value, pebble.Sync),
		"failed to write filter snapshot",
	)
}

// LoadFilterSnapshot reloads the filter persisted for an epoch.
func (s *Store) LoadFilterSnapshot(epoch uint64) (*nullifier.Set, error) {
	value, closer, err := s.db.Get(epochKey(prefixFilter, epoch))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read filter snapshot")
	}
	defer closer.Close()

	var snap filterSnapshot
	if err := cbor.Unmarshal(value, &snap); err != nil {
		return nil, errors.Wrap(err, "failed to decode filter snapshot")
	}
	set, err := nullifier.SetFromBytes(snap.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to restore filter")
	}
	if set.StateHash() != snap.StateHash {
		return nil, errors.New("filter snapshot state hash mismatch")
	}
	return set, nil
}

// LatestFilterSnapshot returns the most recent persisted filter and its
// epoch, or ErrNotFound when none exists.
func (s *Store) LatestFilterSnapshot() (*nullifier.Set, uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixFilter,
		UpperBound: prefixUpperBound(prefixFilter),
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to open snapshot iterator")
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, 0, ErrNotFound
	}
	epoch := binary.BigEndian.Uint64(iter.Key()[len(prefixFilter):])
	set, err := s.LoadFilterSnapshot(epoch)
	if err != nil {
		return nil, 0, err
	}
	return set, epoch, nil
}

// SaveIssuance appends a committed batch's issuance record, keyed by epoch
// and receipt root.
func (s *Store) SaveIssuance(rec *token.IssuanceRecord) error {
	value, err := cbor.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to encode issuance record")
	}
	key := append(epochKey(prefixIssuance, rec.Epoch), rec.ReceiptRoot[:]...)
	return errors.Wrap(s.db.Set(key, value, pebble.Sync), "failed to write issuance record")
}

// IssuancesForEpoch returns every issuance record committed in an epoch.
func (s *Store) IssuancesForEpoch(epoch uint64) ([]*token.IssuanceRecord, error) {
	lower := epochKey(prefixIssuance, epoch)
	upper := epochKey(prefixIssuance, epoch+1)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open issuance iterator")
	}
	defer iter.Close()

	var records []*token.IssuanceRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec token.IssuanceRecord
		if err := cbor.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, errors.Wrap(err, "failed to decode issuance record")
		}
		records = append(records, &rec)
	}
	return records, errors.Wrap(iter.Error(), "issuance iteration failed")
}

// TotalMinted sums issuance amounts across all epochs, the ledger input to
// the next epoch's collateral ratio.
func (s *Store) TotalMinted() (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixIssuance,
		UpperBound: prefixUpperBound(prefixIssuance),
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to open issuance iterator")
	}
	defer iter.Close()

	var total uint64
	for iter.First(); iter.Valid(); iter.Next() {
		var rec token.IssuanceRecord
		if err := cbor.Unmarshal(iter.Value(), &rec); err != nil {
			return 0, errors.Wrap(err, "failed to decode issuance record")
		}
		total += rec.Amount
	}
	return total, errors.Wrap(iter.Error(), "issuance iteration failed")
}
