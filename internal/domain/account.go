package domain

import (
	"github.com/shopspring/decimal"
)

// Full-range tick bounds of the incentivised Uniswap v3 pool.
const (
	FullRangeLowerTick int64 = -887220
	FullRangeUpperTick int64 = 887220
)

// LpPosition is a concentrated liquidity position (Uniswap v3 NFT).
type LpPosition struct {
	TokenID   uint64          // NFT id, unique across the pool
	LowerTick int64           // immutable once set
	UpperTick int64           // immutable once set
	Liquidity decimal.Decimal // non-negative
}

// IsFullRange reports whether the position spans the whole tick range.
func (p LpPosition) IsFullRange() bool {
	return p.LowerTick == FullRangeLowerTick && p.UpperTick == FullRangeUpperTick
}

// Account is the reward state of one participating address.
type Account struct {
	Address     string
	Debt        decimal.Decimal // real debt (raw debt × accumulated rate)
	Collateral  decimal.Decimal // borrow program only
	LpPositions []LpPosition

	StakingWeight         decimal.Decimal
	RewardPerWeightStored decimal.Decimal // accumulator value at last credit
	Earned                decimal.Decimal // monotonically non-decreasing

	TotalBridgedTokens decimal.Decimal // borrow program only
	UsedBridgedTokens  decimal.Decimal // borrow program only
}

// NewAccount returns a zeroed account for address.
func NewAccount(address string) *Account {
	return &Account{
		Address:               address,
		Debt:                  decimal.Zero,
		Collateral:            decimal.Zero,
		LpPositions:           []LpPosition{},
		StakingWeight:         decimal.Zero,
		RewardPerWeightStored: decimal.Zero,
		Earned:                decimal.Zero,
		TotalBridgedTokens:    decimal.Zero,
		UsedBridgedTokens:     decimal.Zero,
	}
}

// EffectiveBridgedTokens returns bridged tokens not yet consumed.
func (a *Account) EffectiveBridgedTokens() decimal.Decimal {
	return a.TotalBridgedTokens.Sub(a.UsedBridgedTokens)
}

// PositionIndex returns the index of tokenID in LpPositions, or -1.
func (a *Account) PositionIndex(tokenID uint64) int {
	for i, p := range a.LpPositions {
		if p.TokenID == tokenID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.LpPositions = make([]LpPosition, len(a.LpPositions))
	copy(c.LpPositions, a.LpPositions)
	return &c
}

// Rates maps a collateral type to its accumulated interest-rate index.
type Rates map[string]decimal.Decimal

// Clone returns a copy of the rate table.
func (r Rates) Clone() Rates {
	c := make(Rates, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
