// voprf.go - Blind token minting protocol.
//
// Three-message blind/evaluate/finalize handshake over BLS12-377 G1 so the
// minting quorum never observes the client's input or the final output in
// the same transaction. Blinding is a group operation removed algebraically
// by the inverse scalar: every successful run over the same input converges
// to the same pseudorandom output F(serverKey, input) regardless of the
// random blinding choice, and two sessions over the same input are
// unlinkable to an observer of the blinded and evaluated elements.
//
// The protocol is stateless across calls; each session carries its own
// BlindState, which is the unblinding secret and must never leave the client.

package voprf

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"golang.org/x/crypto/blake2b"
)

// Domain-separation tags. hashToGroupDST keys the input-to-curve map,
// finalizeDST keys the output hash.
const (
	hashToGroupDST = "veilmint/voprf/bls12377-g1/hash-to-group/v1"
	finalizeDST    = "veilmint/voprf/bls12377-g1/finalize/v1"
)

// OutputSize is the byte length of a finalized token value.
const OutputSize = 32

// Output is the final unlinkable pseudorandom value, a deterministic
// function of (server key, input) alone.
type Output [OutputSize]byte

// ErrInvalidElement is returned when a received group element fails
// curve or subgroup validation.
var ErrInvalidElement = errors.New("voprf: invalid group element")

// PrivateKey is the evaluator's (minting quorum's) secret scalar.
type PrivateKey struct {
	k bls12377_fr.Element
}

// PublicKey is the evaluator's commitment k*G, published so auditors can
// tie evaluations to a known quorum key.
type PublicKey struct {
	P bls12377.G1Affine
}

// KeyGen samples a fresh non-zero evaluation key.
func KeyGen() (*PrivateKey, error) {
	var k bls12377_fr.Element
	for {
		if _, err := k.SetRandom(); err != nil {
			return nil, fmt.Errorf("voprf: key generation failed: %w", err)
		}
		if !k.IsZero() {
			return &PrivateKey{k: k}, nil
		}
	}
}

// PrivateKeyFromBytes reloads an evaluation key serialized by Bytes.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != bls12377_fr.Bytes {
		return nil, fmt.Errorf("voprf: invalid key length: got %d, want %d", len(b), bls12377_fr.Bytes)
	}
	var k bls12377_fr.Element
	k.SetBytes(b)
	if k.IsZero() {
		return nil, errors.New("voprf: zero evaluation key")
	}
	return &PrivateKey{k: k}, nil
}

// Bytes serializes the key scalar.
func (sk *PrivateKey) Bytes() []byte {
	b := sk.k.Bytes()
	return b[:]
}

// Public returns the key's public commitment.
func (sk *PrivateKey) Public() *PublicKey {
	g1Jac, _, _, _ := bls12377.Generators()
	var g bls12377.G1Affine
	g.FromJacobian(&g1Jac)
	var p bls12377.G1Affine
	p.ScalarMultiplication(&g, sk.k.BigInt(new(big.Int)))
	return &PublicKey{P: p}
}

// BlindedElement is the first protocol message: r*H(input), safe to show
// the evaluator.
type BlindedElement struct {
	P bls12377.G1Affine
}

// Bytes returns the compressed encoding for transport.
func (b *BlindedElement) Bytes() []byte {
	raw := b.P.Bytes()
	return raw[:]
}

// SetBytes parses and validates a compressed blinded element.
func (b *BlindedElement) SetBytes(data []byte) error {
	if _, err := b.P.SetBytes(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return nil
}

// EvaluatedElement is the second protocol message: k*r*H(input).
type EvaluatedElement struct {
	P bls12377.G1Affine
}

// Bytes returns the compressed encoding for transport.
func (e *EvaluatedElement) Bytes() []byte {
	raw := e.P.Bytes()
	return raw[:]
}

// SetBytes parses and validates a compressed evaluated element.
func (e *EvaluatedElement) SetBytes(data []byte) error {
	if _, err := e.P.SetBytes(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return nil
}

// BlindState is the client's unblinding secret for one session. It is held
// only by the client and never transmitted.
type BlindState struct {
	r     bls12377_fr.Element
	input []byte
}

// Blind maps the input to the curve and masks it with a fresh random
// blinding scalar. The evaluator cannot invert the returned element
// without the blinding value.
func Blind(input []byte) (*BlindedElement, *BlindState, error) {
	h, err := bls12377.HashToG1(input, []byte(hashToGroupDST))
	if err != nil {
		return nil, nil, fmt.Errorf("voprf: hash-to-group failed: %w", err)
	}

	var r bls12377_fr.Element
	for {
		if _, err := r.SetRandom(); err != nil {
			return nil, nil, fmt.Errorf("voprf: blinding randomness failed: %w", err)
		}
		if !r.IsZero() {
			break
		}
	}

	var blinded bls12377.G1Affine
	blinded.ScalarMultiplication(&h, r.BigInt(new(big.Int)))

	state := &BlindState{r: r, input: append([]byte(nil), input...)}
	return &BlindedElement{P: blinded}, state, nil
}

// Evaluate applies the server key to a blinded element. Deterministic in
// (key, blinded); the server learns nothing about the underlying input.
func Evaluate(sk *PrivateKey, blinded *BlindedElement) (*EvaluatedElement, error) {
	if blinded.P.IsInfinity() || !blinded.P.IsInSubGroup() {
		return nil, ErrInvalidElement
	}
	var out bls12377.G1Affine
	out.ScalarMultiplication(&blinded.P, sk.k.BigInt(new(big.Int)))
	return &EvaluatedElement{P: out}, nil
}

// Finalize removes the blinding factor by the inverse scalar and hashes the
// unblinded point, recovering F(serverKey, input).
func Finalize(state *BlindState, evaluated *EvaluatedElement) (Output, error) {
	var out Output
	if evaluated.P.IsInfinity() || !evaluated.P.IsInSubGroup() {
		return out, ErrInvalidElement
	}
	var rInv bls12377_fr.Element
	rInv.Inverse(&state.r)

	var unblinded bls12377.G1Affine
	unblinded.ScalarMultiplication(&evaluated.P, rInv.BigInt(new(big.Int)))

	return finalHash(state.input, &unblinded), nil
}

// EvaluateDirect computes the reference value F(serverKey, input) without
// blinding. Testing and auditing only: using it for issuance hands the
// evaluator the requester-token link the whole protocol exists to break.
func EvaluateDirect(sk *PrivateKey, input []byte) (Output, error) {
	var out Output
	h, err := bls12377.HashToG1(input, []byte(hashToGroupDST))
	if err != nil {
		return out, fmt.Errorf("voprf: hash-to-group failed: %w", err)
	}
	var p bls12377.G1Affine
	p.ScalarMultiplication(&h, sk.k.BigInt(new(big.Int)))
	return finalHash(input, &p), nil
}

// finalHash derives the protocol output from the input and the unblinded
// group element, RFC 9497 style: lengths are framed so no two (input, point)
// pairs collide.
func finalHash(input []byte, p *bls12377.G1Affine) Output {
	h, _ := blake2b.New256(nil)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(input)))
	h.Write(l[:])
	h.Write(input)
	point := p.Bytes()
	binary.BigEndian.PutUint16(l[:], uint16(len(point)))
	h.Write(l[:])
	h.Write(point[:])
	h.Write([]byte(finalizeDST))

	var out Output
	copy(out[:], h.Sum(nil))
	return out
}

// randInput is a helper for callers that need a fresh protocol input.
func randInput(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// NewInput returns fresh random input bytes for a blind session.
// Use this for all token seeds.
func NewInput() []byte {
	return randInput(32)
}
