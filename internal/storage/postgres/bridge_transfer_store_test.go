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

func TestBridgeTransferStore_InsertBulkAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBridgeTransferStore(pool)

	transfers := []*domain.BridgeTransfer{
		{TxHash: "0x02", LogIndex: 0, Address: "0xa", CType: "WSTETH", Block: 20, Amount: decimal.RequireFromString("2.5")},
		{TxHash: "0x01", LogIndex: 3, Address: "0xa", CType: "RETH", Block: 10, Amount: decimal.RequireFromString("1")},
		{TxHash: "0x03", LogIndex: 0, Address: "0xb", CType: "RETH", Block: 30, Amount: decimal.RequireFromString("4")},
	}
	require.NoError(t, store.InsertBulk(ctx, transfers))

	got, err := store.GetUpToBlock(ctx, 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0x01", got[0].TxHash)
	assert.Equal(t, uint64(20), got[1].Block)
	assert.True(t, got[1].Amount.Equal(decimal.RequireFromString("2.5")))
}

func TestBridgeTransferStore_DuplicateRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBridgeTransferStore(pool)

	first := &domain.BridgeTransfer{TxHash: "0x01", Address: "0xa", CType: "RETH", Block: 10, Amount: decimal.NewFromInt(1)}
	require.NoError(t, store.InsertBulk(ctx, []*domain.BridgeTransfer{first}))

	second := &domain.BridgeTransfer{TxHash: "0x02", Address: "0xa", CType: "RETH", Block: 11, Amount: decimal.NewFromInt(1)}
	err := store.InsertBulk(ctx, []*domain.BridgeTransfer{second, first})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetUpToBlock(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, got, 1, "failed batch must not be partially applied")
}

func TestSyncProgressStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSyncProgressStore(pool)

	_, err := store.GetLastSynced(ctx, "standard-bridge")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetLastSynced(ctx, &storage.SyncProgress{Source: "standard-bridge", Block: 100}))
	require.NoError(t, store.SetLastSynced(ctx, &storage.SyncProgress{Source: "standard-bridge", Block: 250}))

	got, err := store.GetLastSynced(ctx, "standard-bridge")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), got.Block)
}
