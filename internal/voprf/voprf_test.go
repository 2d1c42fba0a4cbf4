package voprf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlindEvaluateFinalize(t *testing.T) {
	sk, err := KeyGen()
	require.NoError(t, err)

	input := []byte("token-seed-0001")

	blinded, state, err := Blind(input)
	require.NoError(t, err)

	evaluated, err := Evaluate(sk, blinded)
	require.NoError(t, err)

	out, err := Finalize(state, evaluated)
	require.NoError(t, err)

	direct, err := EvaluateDirect(sk, input)
	require.NoError(t, err)
	assert.Equal(t, direct, out, "finalize must recover F(serverKey, input) exactly")
}

func TestBlindingIsRemovable(t *testing.T) {
	sk, err := KeyGen()
	require.NoError(t, err)

	input := NewInput()

	// Many sessions over the same input, each with its own random blinding,
	// must converge to the same final value.
	var first Output
	for i := 0; i < 5; i++ {
		blinded, state, err := Blind(input)
		require.NoError(t, err)
		evaluated, err := Evaluate(sk, blinded)
		require.NoError(t, err)
		out, err := Finalize(state, evaluated)
		require.NoError(t, err)
		if i == 0 {
			first = out
		} else {
			assert.Equal(t, first, out)
		}
	}
}

func TestSessionsAreUnlinkable(t *testing.T) {
	input := NewInput()

	b1, _, err := Blind(input)
	require.NoError(t, err)
	b2, _, err := Blind(input)
	require.NoError(t, err)

	// Distinct blinding scalars give distinct on-the-wire elements even for
	// identical inputs; equality here would leak the requester-token link.
	assert.NotEqual(t, b1.Bytes(), b2.Bytes())
}

func TestDifferentKeysDifferentOutputs(t *testing.T) {
	sk1, err := KeyGen()
	require.NoError(t, err)
	sk2, err := KeyGen()
	require.NoError(t, err)

	input := NewInput()
	o1, err := EvaluateDirect(sk1, input)
	require.NoError(t, err)
	o2, err := EvaluateDirect(sk2, input)
	require.NoError(t, err)
	assert.NotEqual(t, o1, o2)
}

func TestDifferentInputsDifferentOutputs(t *testing.T) {
	sk, err := KeyGen()
	require.NoError(t, err)

	o1, err := EvaluateDirect(sk, []byte("input-a"))
	require.NoError(t, err)
	o2, err := EvaluateDirect(sk, []byte("input-b"))
	require.NoError(t, err)
	assert.NotEqual(t, o1, o2)
}

func TestElementCodec(t *testing.T) {
	blinded, _, err := Blind(NewInput())
	require.NoError(t, err)

	var parsed BlindedElement
	require.NoError(t, parsed.SetBytes(blinded.Bytes()))
	assert.True(t, parsed.P.Equal(&blinded.P))

	var bad BlindedElement
	assert.Error(t, bad.SetBytes([]byte("garbage")))
}

func TestKeyRoundTrip(t *testing.T) {
	sk, err := KeyGen()
	require.NoError(t, err)

	restored, err := PrivateKeyFromBytes(sk.Bytes())
	require.NoError(t, err)

	input := NewInput()
	o1, err := EvaluateDirect(sk, input)
	require.NoError(t, err)
	o2, err := EvaluateDirect(restored, input)
	require.NoError(t, err)
	assert.Equal(t, o1, o2)

	_, err = PrivateKeyFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEvaluateRejectsInfinity(t *testing.T) {
	sk, err := KeyGen()
	require.NoError(t, err)

	var identity BlindedElement // point at infinity
	_, err = Evaluate(sk, &identity)
	assert.ErrorIs(t, err, ErrInvalidElement)
}
