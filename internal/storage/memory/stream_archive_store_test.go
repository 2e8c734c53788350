package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

func testArchive(runID, stream string) *domain.StreamArchive {
	acc := domain.NewAccount("0xa")
	acc.Debt = decimal.NewFromInt(100)
	acc.StakingWeight = decimal.NewFromInt(100)

	v := decimal.NewFromInt(5)
	return &domain.StreamArchive{
		RunID:          runID,
		Stream:         stream,
		Program:        domain.ProgramMinter,
		Token:          "KITE",
		CTypes:         []string{"WETH"},
		StartTimestamp: 1000,
		EndTimestamp:   2000,
		RewardAmount:   decimal.NewFromInt(1000),
		Rates:          domain.Rates{"WETH": decimal.NewFromInt(1)},
		Accounts:       []*domain.Account{acc},
		Events: []*domain.RewardEvent{{
			Type:      domain.EventDeltaDebt,
			Timestamp: 1500,
			LogIndex:  domain.Int64Ptr(0),
			Address:   "0xa",
			CType:     "WETH",
			Value:     &v,
		}},
	}
}

func TestStreamArchiveStore_SaveAndLoad(t *testing.T) {
	store := NewStreamArchiveStore()
	ctx := context.Background()

	a := testArchive("run1", "MINTER_REWARDS/KITE/WETH")
	if err := store.Save(ctx, a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the source after save must not leak into the store
	a.Accounts[0].Debt = decimal.Zero
	a.Rates["WETH"] = decimal.NewFromInt(9)

	got, err := store.Load(ctx, "run1", "MINTER_REWARDS/KITE/WETH")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !got.Accounts[0].Debt.Equal(decimal.NewFromInt(100)) {
		t.Errorf("archive accounts were shared with caller")
	}
	if !got.Rates["WETH"].Equal(decimal.NewFromInt(1)) {
		t.Errorf("archive rates were shared with caller")
	}
	if len(got.Events) != 1 || got.Events[0].Type != domain.EventDeltaDebt {
		t.Errorf("unexpected events: %v", got.Events)
	}
}

func TestStreamArchiveStore_ListAndErrors(t *testing.T) {
	store := NewStreamArchiveStore()
	ctx := context.Background()

	for _, s := range []string{"MINTER_REWARDS/KITE/WETH", "LP_REWARDS/KITE"} {
		if err := store.Save(ctx, testArchive("run1", s)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := store.Save(ctx, testArchive("run1", "LP_REWARDS/KITE")); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if _, err := store.Load(ctx, "run1", "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	streams, err := store.ListStreams(ctx, "run1")
	if err != nil {
		t.Fatalf("ListStreams failed: %v", err)
	}
	if len(streams) != 2 || streams[0] != "LP_REWARDS/KITE" {
		t.Errorf("unexpected streams: %v", streams)
	}
}
