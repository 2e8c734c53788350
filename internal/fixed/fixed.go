// Package fixed provides the fixed-point arithmetic used by the reward engine.
//
// Amounts (debt, collateral, earned, weights) carry Scale fractional digits.
// Densities (reward per weight, accumulated rate indices) carry PrecisionScale
// digits because LP liquidity weights are large integers and the per-weight
// density would otherwise round to zero.
//
// Products are truncated and quotients rounded half away from zero, always to
// a fixed scale, so a replay is a deterministic function of its inputs.
package fixed

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// Scale is the number of fractional digits kept for amounts.
	Scale int32 = 18
	// PrecisionScale is the number of fractional digits kept for densities and rates.
	PrecisionScale int32 = 36
)

var (
	// Zero is the additive identity.
	Zero = decimal.Zero
	// One is the multiplicative identity.
	One = decimal.NewFromInt(1)
	// DustFloor is the lower bound (exclusive) of the negative debt band clamped to zero.
	DustFloor = decimal.RequireFromString("-0.4")

	// ErrNegativeAmount is returned when a negative amount is converted to base units.
	ErrNegativeAmount = errors.New("negative amount")
	// ErrOverflow is returned when an amount does not fit into 256 bits.
	ErrOverflow = errors.New("amount overflows uint256")
)

// Mul returns a*b truncated to Scale digits.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(Scale)
}

// MulPrecise returns a*b truncated to PrecisionScale digits.
func MulPrecise(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(PrecisionScale)
}

// Div returns a/b rounded to Scale digits. b must not be zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, Scale)
}

// DivPrecise returns a/b rounded to PrecisionScale digits. b must not be zero.
func DivPrecise(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, PrecisionScale)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Parse parses a decimal string and rounds it to Scale digits.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Round(Scale), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ToBaseUnits scales an amount to integer base units with Scale decimals
// (the wei-style representation used by ERC20 tokens). Digits beyond Scale are
// truncated.
func ToBaseUnits(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, d.String())
	}
	units := d.Shift(Scale).Truncate(0).BigInt()
	v, overflow := uint256.FromBig(units)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, d.String())
	}
	return v, nil
}

// FromBaseUnits converts integer base units with Scale decimals back to an amount.
func FromBaseUnits(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -Scale)
}
