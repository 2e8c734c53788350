package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

func TestBridgeTransferStore_GetUpToBlock(t *testing.T) {
	store := NewBridgeTransferStore()
	ctx := context.Background()

	transfers := []*domain.BridgeTransfer{
		{TxHash: "0x2", LogIndex: 0, Address: "0xa", CType: "WSTETH", Block: 20, Amount: decimal.NewFromInt(2)},
		{TxHash: "0x1", LogIndex: 1, Address: "0xa", CType: "RETH", Block: 10, Amount: decimal.NewFromInt(1)},
		{TxHash: "0x1", LogIndex: 0, Address: "0xb", CType: "RETH", Block: 10, Amount: decimal.NewFromInt(3)},
		{TxHash: "0x3", LogIndex: 0, Address: "0xb", CType: "RETH", Block: 30, Amount: decimal.NewFromInt(4)},
	}
	if err := store.InsertBulk(ctx, transfers); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetUpToBlock(ctx, 20)
	if err != nil {
		t.Fatalf("GetUpToBlock failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 transfers up to block 20, got %d", len(got))
	}
	if got[0].LogIndex != 0 || got[1].LogIndex != 1 || got[2].Block != 20 {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestBridgeTransferStore_Errors(t *testing.T) {
	store := NewBridgeTransferStore()
	ctx := context.Background()

	tr := &domain.BridgeTransfer{TxHash: "0x1", Amount: decimal.NewFromInt(1)}
	if err := store.InsertBulk(ctx, []*domain.BridgeTransfer{tr, tr}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	neg := &domain.BridgeTransfer{TxHash: "0x2", Amount: decimal.NewFromInt(-1)}
	if err := store.InsertBulk(ctx, []*domain.BridgeTransfer{neg}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for negative amount, got %v", err)
	}
}
