package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

func TestPayoutStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPayoutStore(pool)

	table := domain.PayoutTable{
		"KITE": {
			{Address: "0xb", Earned: decimal.RequireFromString("10.000000000000000001")},
			{Address: "0xa", Earned: decimal.RequireFromString("30")},
		},
		"OP": {
			{Address: "0xc", Earned: decimal.RequireFromString("1.5")},
		},
	}
	require.NoError(t, store.InsertTable(ctx, "run-1", table))

	got, err := store.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got["KITE"], 2)
	assert.Equal(t, "0xa", got["KITE"][0].Address)
	assert.True(t, got["KITE"][1].Earned.Equal(decimal.RequireFromString("10.000000000000000001")),
		"18 fractional digits survive the round trip")
	require.Len(t, got["OP"], 1)

	assert.ErrorIs(t, store.InsertTable(ctx, "run-1", table), storage.ErrDuplicateKey)

	_, err = store.GetByRun(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
