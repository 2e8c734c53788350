package results

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-distributor/internal/domain"
)

func account(addr, earned string) *domain.Account {
	acc := domain.NewAccount(addr)
	acc.Earned = decimal.RequireFromString(earned)
	return acc
}

func payout(addr, earned string) domain.Payout {
	return domain.Payout{Address: addr, Earned: decimal.RequireFromString(earned)}
}

func TestFromAccounts_FiltersAndSorts(t *testing.T) {
	got := FromAccounts([]*domain.Account{
		account("0xc", "5"),
		account("0xa", "0"),
		account("0xb", "10"),
		account("0xd", "5"),
	})

	require.Len(t, got, 3)
	assert.Equal(t, "0xb", got[0].Address)
	assert.Equal(t, "0xc", got[1].Address)
	assert.Equal(t, "0xd", got[2].Address)
}

func TestCombine_SumsAcrossPrograms(t *testing.T) {
	lp := domain.PayoutTable{
		"KITE": {payout("0xA", "10"), payout("0xb", "1")},
	}
	minterReth := domain.PayoutTable{
		"KITE": {payout("0xa", "5")},
		"OP":   {payout("0xc", "2")},
	}
	minterWsteth := domain.PayoutTable{
		"KITE": {payout("0xb", "20")},
	}

	got := Combine(lp, minterReth, minterWsteth)

	require.Len(t, got["KITE"], 2)
	assert.Equal(t, "0xb", got["KITE"][0].Address)
	assert.True(t, got["KITE"][0].Earned.Equal(decimal.NewFromInt(21)))
	assert.Equal(t, "0xa", got["KITE"][1].Address)
	assert.True(t, got["KITE"][1].Earned.Equal(decimal.NewFromInt(15)))
	require.Len(t, got["OP"], 1)
	assert.Equal(t, []string{"KITE", "OP"}, got.Tokens())
}

func TestCombine_OrderIndependent(t *testing.T) {
	a := domain.PayoutTable{"KITE": {payout("0x1", "1.5"), payout("0x2", "3")}}
	b := domain.PayoutTable{"KITE": {payout("0x2", "0.5"), payout("0x3", "7")}}

	ab, ba := Combine(a, b)["KITE"], Combine(b, a)["KITE"]
	require.Len(t, ab, 3)
	require.Len(t, ba, 3)
	for i := range ab {
		assert.Equal(t, ab[i].Address, ba[i].Address)
		assert.True(t, ab[i].Earned.Equal(ba[i].Earned))
	}
	assert.Equal(t, "0x3", ab[0].Address)
}

func TestTotals(t *testing.T) {
	totals := Totals(domain.PayoutTable{
		"KITE": {payout("0x1", "1.5"), payout("0x2", "3")},
		"OP":   nil,
	})

	assert.True(t, totals["KITE"].Equal(decimal.RequireFromString("4.5")))
	assert.True(t, totals["OP"].IsZero())
}
