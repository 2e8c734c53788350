// Package results turns final account states into payout tables.
//
// Every function here is a pure reduction: the output does not depend on the
// order of its inputs.
package results

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/fixed"
)

// FromAccounts extracts (address, earned) pairs, dropping non-positive
// entries, sorted by earned descending then address ascending.
func FromAccounts(accounts []*domain.Account) []domain.Payout {
	out := make([]domain.Payout, 0, len(accounts))
	for _, acc := range accounts {
		if !acc.Earned.IsPositive() {
			continue
		}
		out = append(out, domain.Payout{Address: acc.Address, Earned: acc.Earned})
	}
	Sort(out)
	return out
}

// Sort orders payouts by earned descending, ties by address ascending.
func Sort(payouts []domain.Payout) {
	sort.Slice(payouts, func(i, j int) bool {
		if c := payouts[i].Earned.Cmp(payouts[j].Earned); c != 0 {
			return c > 0
		}
		return payouts[i].Address < payouts[j].Address
	})
}

// Combine sums payouts per token and address across tables. Addresses are
// compared case-insensitively and emitted lower-cased.
func Combine(tables ...domain.PayoutTable) domain.PayoutTable {
	sums := make(map[string]map[string]decimal.Decimal)
	for _, table := range tables {
		for token, payouts := range table {
			perAddr, ok := sums[token]
			if !ok {
				perAddr = make(map[string]decimal.Decimal)
				sums[token] = perAddr
			}
			for _, p := range payouts {
				addr := strings.ToLower(p.Address)
				perAddr[addr] = perAddr[addr].Add(p.Earned)
			}
		}
	}

	out := make(domain.PayoutTable, len(sums))
	for token, perAddr := range sums {
		payouts := make([]domain.Payout, 0, len(perAddr))
		for addr, earned := range perAddr {
			if !earned.IsPositive() {
				continue
			}
			payouts = append(payouts, domain.Payout{Address: addr, Earned: earned})
		}
		Sort(payouts)
		out[token] = payouts
	}
	return out
}

// Totals returns the summed payout per token.
func Totals(table domain.PayoutTable) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(table))
	for token, payouts := range table {
		total := fixed.Zero
		for _, p := range payouts {
			total = total.Add(p.Earned)
		}
		out[token] = total
	}
	return out
}
