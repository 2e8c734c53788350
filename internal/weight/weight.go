// Package weight converts account attributes into staking weights.
//
// Both calculators are pure functions. The LP calculator only counts
// full-range positions; the debt calculator optionally caps debt by the
// share of collateral attributable to bridged funds.
package weight

import (
	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/fixed"
)

// ForLPPositions returns the summed liquidity of full-range positions.
// Partial-range positions contribute zero.
func ForLPPositions(positions []domain.LpPosition) decimal.Decimal {
	total := fixed.Zero
	for _, p := range positions {
		if !p.IsFullRange() {
			continue
		}
		total = total.Add(p.Liquidity)
	}
	return total
}

// ForDebt returns the rewardable debt.
//
// Without bridging, or when collateral or bridged data is missing, the weight
// is the debt itself. Otherwise:
//
//	ratio  = 0 if collateral == 0 and bridged == 0, else min(bridged/collateral, 1)
//	weight = min(debt, debt*ratio)
//
// A zero collateral with positive bridged tokens yields ratio 1.
func ForDebt(debt decimal.Decimal, collateral, effectiveBridged *decimal.Decimal, withBridge bool) decimal.Decimal {
	if !withBridge || collateral == nil || effectiveBridged == nil {
		return debt
	}
	ratio := BridgedRatio(*collateral, *effectiveBridged)
	return fixed.Min(debt, fixed.Mul(debt, ratio))
}

// BridgedRatio returns min(bridged/collateral, 1), with 0 when both are zero.
func BridgedRatio(collateral, bridged decimal.Decimal) decimal.Decimal {
	if collateral.IsZero() {
		if bridged.IsPositive() {
			return fixed.One
		}
		return fixed.Zero
	}
	return fixed.Min(fixed.Div(bridged, collateral), fixed.One)
}

// ForAccount dispatches to the calculator of the given program. Callers pass
// withBridge=false when no bridge data source is configured.
func ForAccount(acc *domain.Account, program domain.Program, withBridge bool) decimal.Decimal {
	if program == domain.ProgramLP {
		return ForLPPositions(acc.LpPositions)
	}
	collateral := acc.Collateral
	bridged := acc.EffectiveBridgedTokens()
	return ForDebt(acc.Debt, &collateral, &bridged, withBridge)
}
