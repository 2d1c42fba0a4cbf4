package throttle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ratio(t *testing.T, s string) Ratio {
	t.Helper()
	return NewRatio(decimal.RequireFromString(s))
}

func TestComputeCR(t *testing.T) {
	t.Run("zero minted yields max", func(t *testing.T) {
		assert.True(t, ComputeCR(0, 12345).Decimal().Equal(MaxCR))
		assert.True(t, ComputeCR(0, 0).Decimal().Equal(MaxCR))
	})

	t.Run("clamped below", func(t *testing.T) {
		// infra/minted = 0.1, clamped up to 0.5
		assert.True(t, ComputeCR(1000, 100).Decimal().Equal(MinCR))
	})

	t.Run("clamped above", func(t *testing.T) {
		// infra/minted = 10, clamped down to 2.0
		assert.True(t, ComputeCR(100, 1000).Decimal().Equal(MaxCR))
	})

	t.Run("in band", func(t *testing.T) {
		cr := ComputeCR(1000, 750)
		assert.True(t, cr.Decimal().Equal(decimal.RequireFromString("0.75")))
	})

	t.Run("monotonic in infra value", func(t *testing.T) {
		prev := ComputeCR(1000, 0)
		for infra := uint64(100); infra <= 3000; infra += 100 {
			cr := ComputeCR(1000, infra)
			assert.True(t, cr.Decimal().Cmp(prev.Decimal()) >= 0,
				"CR must be non-decreasing in total_infra_value")
			assert.True(t, cr.Decimal().Cmp(MinCR) >= 0)
			assert.True(t, cr.Decimal().Cmp(MaxCR) <= 0)
			prev = cr
		}
	})
}

func TestMaxMintable(t *testing.T) {
	const base = uint64(1_000_000)

	t.Run("halted at the floor", func(t *testing.T) {
		assert.Equal(t, uint64(0), MaxMintable(ratio(t, "0.5"), base))
	})

	t.Run("full rate at one", func(t *testing.T) {
		assert.Equal(t, base, MaxMintable(ratio(t, "1.0"), base))
		assert.Equal(t, base, MaxMintable(ratio(t, "2.0"), base))
	})

	t.Run("linear midpoint", func(t *testing.T) {
		assert.Equal(t, uint64(500_000), MaxMintable(ratio(t, "0.75"), base))
		assert.Equal(t, uint64(200_000), MaxMintable(ratio(t, "0.6"), base))
		assert.Equal(t, uint64(800_000), MaxMintable(ratio(t, "0.9"), base))
	})

	t.Run("monotonic on the open interval", func(t *testing.T) {
		prev := uint64(0)
		for cents := 51; cents < 100; cents++ {
			cr := NewRatio(decimal.New(int64(cents), -2))
			got := MaxMintable(cr, base)
			assert.GreaterOrEqual(t, got, prev)
			assert.LessOrEqual(t, got, base)
			prev = got
		}
	})

	t.Run("zero base", func(t *testing.T) {
		assert.Equal(t, uint64(0), MaxMintable(ratio(t, "1.5"), 0))
	})
}

func TestCheckMintable(t *testing.T) {
	t.Run("allowed at full rate", func(t *testing.T) {
		require.NoError(t, CheckMintable(ratio(t, "1.0"), 1_000_000))
	})

	t.Run("rejected below full rate", func(t *testing.T) {
		err := CheckMintable(ratio(t, "0.75"), 1_000_000)
		require.Error(t, err)

		var throttled *ThrottledError
		require.ErrorAs(t, err, &throttled)
		assert.Equal(t, uint64(1_000_000), throttled.Requested)
		assert.Equal(t, uint64(500_000), throttled.MaxAllowed)
	})

	t.Run("halted rejects everything", func(t *testing.T) {
		err := CheckMintable(ratio(t, "0.5"), 1)
		var throttled *ThrottledError
		require.ErrorAs(t, err, &throttled)
		assert.Equal(t, uint64(0), throttled.MaxAllowed)
	})

	t.Run("zero request always passes", func(t *testing.T) {
		require.NoError(t, CheckMintable(ratio(t, "0.5"), 0))
	})
}
