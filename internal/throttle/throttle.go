// throttle.go - Collateral-ratio-gated issuance throttle.
//
// The collateral ratio (infrastructure value backing the currency divided by
// total minted) mechanically bounds the money-supply growth rate. The ratio
// and epoch are explicit arguments, never ambient state: every function here
// is pure so cross-epoch coupling cannot hide in a global.

package throttle

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// MinCR is the halt point: at or below it nothing may be minted.
	MinCR = decimal.RequireFromString("0.5")
	// MaxCR is the clamp ceiling, also the ratio assumed when nothing has
	// been minted yet.
	MaxCR = decimal.RequireFromString("2.0")

	fullRate = decimal.RequireFromString("1.0")
)

// Ratio is a collateral ratio, always clamped to [0.5, 2.0].
type Ratio struct {
	d decimal.Decimal
}

// NewRatio clamps an arbitrary decimal into the valid band.
func NewRatio(d decimal.Decimal) Ratio {
	if d.Cmp(MinCR) < 0 {
		return Ratio{d: MinCR}
	}
	if d.Cmp(MaxCR) > 0 {
		return Ratio{d: MaxCR}
	}
	return Ratio{d: d}
}

// Decimal returns the underlying value.
func (r Ratio) Decimal() decimal.Decimal { return r.d }

func (r Ratio) String() string { return r.d.String() }

// ComputeCR derives the epoch's collateral ratio from the oracle/ledger
// inputs. MAX_CR when nothing is minted; otherwise infra/minted, clamped.
func ComputeCR(totalMinted, totalInfraValue uint64) Ratio {
	if totalMinted == 0 {
		return Ratio{d: MaxCR}
	}
	cr := decimal.NewFromUint64(totalInfraValue).Div(decimal.NewFromUint64(totalMinted))
	return NewRatio(cr)
}

// MaxMintable converts a ratio into the largest amount issuable against a
// base amount: zero at the halt point, the full base at cr >= 1, and a
// linear interpolation in between. Monotonic in cr, never negative, never
// exceeds base.
func MaxMintable(cr Ratio, base uint64) uint64 {
	if cr.d.Cmp(MinCR) <= 0 {
		return 0
	}
	if cr.d.Cmp(fullRate) >= 0 {
		return base
	}
	// base * (cr - 0.5) / 0.5
	scaled := decimal.NewFromUint64(base).Mul(cr.d.Sub(MinCR)).Div(fullRate.Sub(MinCR))
	return scaled.Floor().BigInt().Uint64()
}

// ThrottledError reports a mint request above the CR-bounded maximum. Both
// amounts are carried so the caller can retry with a reduced request.
type ThrottledError struct {
	Requested  uint64
	MaxAllowed uint64
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("mint amount throttled: requested %d, max allowed %d", e.Requested, e.MaxAllowed)
}

// CheckMintable fails iff the requested amount exceeds the throttle curve's
// allowance for it.
func CheckMintable(cr Ratio, requested uint64) error {
	max := MaxMintable(cr, requested)
	if requested > max {
		return &ThrottledError{Requested: requested, MaxAllowed: max}
	}
	return nil
}
