package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Payout is the final reward owed to one address for one token.
type Payout struct {
	Address string
	Earned  decimal.Decimal
}

// PayoutTable maps a reward token to its payouts, sorted by Earned descending.
type PayoutTable map[string][]Payout

// Tokens returns the reward tokens present in the table, sorted.
func (t PayoutTable) Tokens() []string {
	tokens := make([]string, 0, len(t))
	for token := range t {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}
