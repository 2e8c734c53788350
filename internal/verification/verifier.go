// Package verification checks that stored payout tables match a replay of the
// archived event streams.
package verification

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
)

// Tolerance is the largest accepted absolute difference between a stored and
// a replayed payout.
var Tolerance = decimal.New(1, -18)

// PayoutDivergence represents a mismatch between stored and replayed payouts.
type PayoutDivergence struct {
	Token    string
	Address  string
	Expected decimal.Decimal // stored value, zero if absent
	Actual   decimal.Decimal // replayed value, zero if absent
}

// VerificationReport contains the result of verifying one run.
type VerificationReport struct {
	RunID         string
	Match         bool
	PayoutsStored int
	Divergences   []PayoutDivergence
}

// Verifier verifies stored runs.
type Verifier interface {
	// VerifyRun replays the archived streams of a run and compares the
	// combined payouts with the stored table.
	VerifyRun(ctx context.Context, runID string) (*VerificationReport, error)
}

// ComparePayoutTables returns divergences ordered by token then address.
// Addresses present in only one table diverge against zero.
func ComparePayoutTables(stored, replayed domain.PayoutTable) []PayoutDivergence {
	type key struct{ token, address string }
	expected := make(map[key]decimal.Decimal)
	actual := make(map[key]decimal.Decimal)
	for token, payouts := range stored {
		for _, p := range payouts {
			expected[key{token, p.Address}] = p.Earned
		}
	}
	for token, payouts := range replayed {
		for _, p := range payouts {
			actual[key{token, p.Address}] = p.Earned
		}
	}

	keys := make(map[key]struct{}, len(expected))
	for k := range expected {
		keys[k] = struct{}{}
	}
	for k := range actual {
		keys[k] = struct{}{}
	}

	var divergences []PayoutDivergence
	for k := range keys {
		e, a := expected[k], actual[k]
		if e.Sub(a).Abs().GreaterThan(Tolerance) {
			divergences = append(divergences, PayoutDivergence{
				Token:    k.token,
				Address:  k.address,
				Expected: e,
				Actual:   a,
			})
		}
	}
	sort.Slice(divergences, func(i, j int) bool {
		if divergences[i].Token != divergences[j].Token {
			return divergences[i].Token < divergences[j].Token
		}
		return divergences[i].Address < divergences[j].Address
	})
	return divergences
}
