package subgraph

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
)

const testPool = "0xPOOL"

func TestUniswap_LpPositions(t *testing.T) {
	client := newTestClient(t, func(query string) (int, string) {
		if !strings.Contains(query, `pool: "0xpool"`) {
			t.Errorf("expected lowercased pool in %s", query)
		}
		return http.StatusOK, `{"data":{"positions":[
			{"id":"1","owner":"0xalice","liquidity":"100","tickLower":{"tickIdx":"-887220"},"tickUpper":{"tickIdx":"887220"}},
			{"id":"2","owner":"0xalice","liquidity":"5","tickLower":{"tickIdx":"-60"},"tickUpper":{"tickIdx":"60"}},
			{"id":"3","owner":"0xbob","liquidity":"7","tickLower":{"tickIdx":"-887220"},"tickUpper":{"tickIdx":"887220"}}
		]}}`
	})

	byOwner, err := NewUniswap(client, testPool).LpPositions(context.Background(), 100)
	if err != nil {
		t.Fatalf("LpPositions failed: %v", err)
	}
	if len(byOwner) != 2 {
		t.Fatalf("expected 2 owners, got %d", len(byOwner))
	}
	alice := byOwner["0xalice"]
	if len(alice) != 2 {
		t.Fatalf("expected 2 positions for alice, got %d", len(alice))
	}
	if !alice[0].IsFullRange() || alice[1].IsFullRange() {
		t.Errorf("unexpected range flags %+v", alice)
	}
	if alice[1].TokenID != 2 || !alice[1].Liquidity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("unexpected position %+v", alice[1])
	}
}

func TestUniswap_PositionUpdates(t *testing.T) {
	client := newTestClient(t, func(string) (int, string) {
		return http.StatusOK, `{"data":{"positionSnapshots":[
			{"owner":"0xalice","timestamp":"1000","liquidity":"0","blockNumber":"55",
			 "position":{"id":"9","tickLower":{"tickIdx":"-887220"},"tickUpper":{"tickIdx":"887220"}}}
		]}}`
	})

	evts, err := NewUniswap(client, testPool).PositionUpdates(context.Background(), 50, 60)
	if err != nil {
		t.Fatalf("PositionUpdates failed: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evts))
	}
	e := evts[0]
	if e.Type != domain.EventPoolPositionUpdate || e.Address != "0xalice" {
		t.Errorf("unexpected event %s", e)
	}
	if e.LogIndexOrZero() != domain.PositionLogIndex {
		t.Errorf("expected position log index, got %d", e.LogIndexOrZero())
	}
	if e.Position == nil || e.Position.TokenID != 9 || !e.Position.Liquidity.IsZero() {
		t.Errorf("unexpected position %+v", e.Position)
	}
	if e.CreatedAtBlock != 55 {
		t.Errorf("expected block 55, got %d", e.CreatedAtBlock)
	}
}

func TestUniswap_Swaps(t *testing.T) {
	client := newTestClient(t, func(query string) (int, string) {
		if !strings.Contains(query, "timestamp_gte: 1000") || !strings.Contains(query, "timestamp_lte: 2000") {
			t.Errorf("expected timestamp range in %s", query)
		}
		return http.StatusOK, `{"data":{"swaps":[
			{"id":"0xee#1","sqrtPriceX96":"79228162514264337593543950336","timestamp":"1500","logIndex":"4","transaction":{"blockNumber":"77"}}
		]}}`
	})

	evts, err := NewUniswap(client, testPool).Swaps(context.Background(), 1000, 2000)
	if err != nil {
		t.Fatalf("Swaps failed: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evts))
	}
	e := evts[0]
	if e.Type != domain.EventPoolSwap || e.LogIndexOrZero() != 4 || e.CreatedAtBlock != 77 {
		t.Errorf("unexpected event %s", e)
	}
	if e.Value.String() != "79228162514264337593543950336" {
		t.Errorf("unexpected price %s", e.Value)
	}
}

func TestUniswap_SqrtPrice(t *testing.T) {
	client := newTestClient(t, func(query string) (int, string) {
		if strings.Contains(query, "block: {number: 1}") {
			return http.StatusOK, `{"data":{"pool":null}}`
		}
		return http.StatusOK, `{"data":{"pool":{"sqrtPrice":"123"}}}`
	})
	uni := NewUniswap(client, testPool)

	price, err := uni.SqrtPrice(context.Background(), 100)
	if err != nil {
		t.Fatalf("SqrtPrice failed: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(123)) {
		t.Errorf("expected 123, got %s", price)
	}

	if _, err := uni.SqrtPrice(context.Background(), 1); err == nil {
		t.Error("expected error for missing pool")
	}
}

func TestSnapshots(t *testing.T) {
	client := newTestClient(t, func(query string) (int, string) {
		if strings.Contains(query, "safes") {
			return http.StatusOK, `{"data":{"safes":[{"debt":"1","safeHandler":"0xh1","collateralType":{"id":"WETH"}}]}}`
		}
		return http.StatusOK, `{"data":{"positions":[]}}`
	})
	snaps := &Snapshots{GEB: NewGEB(client), Uniswap: NewUniswap(client, testPool)}

	debts, err := snaps.SafeDebts(context.Background(), 1, "WETH")
	if err != nil || len(debts) != 1 {
		t.Fatalf("SafeDebts: expected 1 debt, got %d (%v)", len(debts), err)
	}
	positions, err := snaps.LpPositions(context.Background(), 1)
	if err != nil || len(positions) != 0 {
		t.Fatalf("LpPositions: expected none, got %d (%v)", len(positions), err)
	}
}
