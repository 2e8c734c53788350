package accrual

import (
	"fmt"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
)

// CheckAccount asserts that every amount held by acc is non-negative.
// Decimals cannot be NaN or infinite, so finiteness holds by construction.
func CheckAccount(acc *domain.Account, e *domain.RewardEvent) error {
	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"debt", acc.Debt},
		{"stakingWeight", acc.StakingWeight},
		{"earned", acc.Earned},
		{"rewardPerWeightStored", acc.RewardPerWeightStored},
	}
	for _, f := range fields {
		if f.value.IsNegative() {
			return &InvariantViolation{Account: acc.Clone(), Event: e, Field: f.name, Value: f.value}
		}
	}
	for _, p := range acc.LpPositions {
		if p.Liquidity.IsNegative() {
			return &InvariantViolation{
				Account: acc.Clone(),
				Event:   e,
				Field:   fmt.Sprintf("lpPositions[%d].liquidity", p.TokenID),
				Value:   p.Liquidity,
			}
		}
	}
	return nil
}

// CheckFinal asserts the replay clock did not pass the campaign end.
func CheckFinal(finalTimestamp, endTimestamp int64) error {
	if finalTimestamp > endTimestamp {
		return fmt.Errorf("%w: replay reached %d, campaign ends at %d",
			ErrImpossibleFinalTimestamp, finalTimestamp, endTimestamp)
	}
	return nil
}
