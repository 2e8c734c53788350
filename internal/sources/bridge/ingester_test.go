package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
	"reward-distributor/internal/storage/memory"
)

// fakeScanner returns one transfer per block that has an entry.
type fakeScanner struct {
	byBlock map[uint64]*domain.BridgeTransfer
	ranges  [][2]uint64
	failAt  uint64
}

func (f *fakeScanner) Scan(_ context.Context, from, to uint64) ([]*domain.BridgeTransfer, error) {
	f.ranges = append(f.ranges, [2]uint64{from, to})
	if f.failAt != 0 && from <= f.failAt && f.failAt <= to {
		return nil, errors.New("rpc unavailable")
	}
	var out []*domain.BridgeTransfer
	for b := from; b <= to; b++ {
		if t, ok := f.byBlock[b]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestIngester_IngestUntil(t *testing.T) {
	ctx := context.Background()
	scanner := &fakeScanner{byBlock: map[uint64]*domain.BridgeTransfer{
		101: transfer("0xa", "0xalice", "WSTETH", 101, "1"),
		115: transfer("0xb", "0xbob", "WSTETH", 115, "2"),
		125: transfer("0xc", "0xalice", "RETH", 125, "3"),
	}}
	transfers := memory.NewBridgeTransferStore()
	progress := memory.NewSyncProgressStore()

	ing := NewIngester(IngestOptions{
		Scanner:    scanner,
		Transfers:  transfers,
		Progress:   progress,
		StartBlock: 100,
		ChunkSize:  10,
	})

	result, err := ing.IngestUntil(ctx, 120)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TransfersIngested)
	assert.Equal(t, [][2]uint64{{100, 109}, {110, 119}, {120, 120}}, scanner.ranges)

	p, err := progress.GetLastSynced(ctx, Source)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), p.Block)

	// resume from saved progress
	scanner.ranges = nil
	result, err = ing.IngestUntil(ctx, 130)
	require.NoError(t, err)
	assert.Equal(t, uint64(121), result.FromBlock)
	assert.Equal(t, 1, result.TransfersIngested)

	stored, err := transfers.GetUpToBlock(ctx, 200)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	// nothing to do
	result, err = ing.IngestUntil(ctx, 130)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TransfersIngested)
}

func TestIngester_SkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	dup := transfer("0xa", "0xalice", "WSTETH", 5, "1")
	transfers := memory.NewBridgeTransferStore()
	require.NoError(t, transfers.InsertBulk(ctx, []*domain.BridgeTransfer{dup}))

	scanner := &fakeScanner{byBlock: map[uint64]*domain.BridgeTransfer{
		5: dup,
		6: transfer("0xb", "0xalice", "WSTETH", 6, "1"),
	}}
	ing := NewIngester(IngestOptions{
		Scanner:    scanner,
		Transfers:  transfers,
		Progress:   memory.NewSyncProgressStore(),
		StartBlock: 1,
	})

	result, err := ing.IngestUntil(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TransfersIngested)
	assert.Equal(t, 1, result.DuplicatesSkipped)
}

func TestIngester_ScanErrorKeepsProgress(t *testing.T) {
	ctx := context.Background()
	progress := memory.NewSyncProgressStore()
	ing := NewIngester(IngestOptions{
		Scanner:    &fakeScanner{failAt: 15},
		Transfers:  memory.NewBridgeTransferStore(),
		Progress:   progress,
		StartBlock: 1,
		ChunkSize:  10,
	})

	_, err := ing.IngestUntil(ctx, 30)
	require.Error(t, err)

	p, err := progress.GetLastSynced(ctx, Source)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), p.Block)

	_, err = memory.NewSyncProgressStore().GetLastSynced(ctx, Source)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
