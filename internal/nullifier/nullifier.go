// nullifier.go - Nullifier derivation for spent tokens.
//
// A nullifier is a one-way value revealing that *a* token was spent without
// revealing *which* token. It is derived once, at spend time, by the spender;
// every replica that observes it stores it in its local Set.

package nullifier

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is the byte length of a nullifier.
const Size = 32

// Nullifier identifies a spent token: H(serial || spend_secret).
// Immutable once derived; one nullifier per spend attempt.
type Nullifier [Size]byte

// Derive computes the nullifier for a token's serial and spend secret
// using BLAKE2b-256. The derivation is deterministic: the same token
// always nullifies to the same value, so a replay is detectable.
func Derive(serial, spendSecret []byte) Nullifier {
	h, _ := blake2b.New256(nil)
	h.Write(serial)
	h.Write(spendSecret)
	var n Nullifier
	copy(n[:], h.Sum(nil))
	return n
}

// FromBytes parses a nullifier from a raw 32-byte slice.
func FromBytes(b []byte) (Nullifier, error) {
	var n Nullifier
	if len(b) != Size {
		return n, fmt.Errorf("invalid nullifier length: got %d, want %d", len(b), Size)
	}
	copy(n[:], b)
	return n, nil
}

// Hex returns the hex encoding, used for logging and storage keys.
func (n Nullifier) Hex() string {
	return hex.EncodeToString(n[:])
}
