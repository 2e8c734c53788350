package bridge

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage/memory"
)

func transfer(tx string, addr, cType string, block uint64, amount string) *domain.BridgeTransfer {
	return &domain.BridgeTransfer{
		TxHash:  tx,
		Address: addr,
		CType:   cType,
		Block:   block,
		Amount:  decimal.RequireFromString(amount),
	}
}

func TestLedger_BridgedAt(t *testing.T) {
	ledger := NewLedger([]*domain.BridgeTransfer{
		transfer("0x3", "0xAlice", "WSTETH", 30, "2"),
		transfer("0x1", "0xalice", "WSTETH", 10, "1"),
		transfer("0x2", "0xalice", "WSTETH", 10, "0.5"),
		transfer("0x4", "0xalice", "RETH", 20, "7"),
		transfer("0x5", "0xbob", "WSTETH", 15, "4"),
	})

	tests := []struct {
		name    string
		address string
		cType   string
		block   uint64
		want    string
	}{
		{"before first transfer", "0xalice", "WSTETH", 9, "0"},
		{"same block transfers summed", "0xalice", "WSTETH", 10, "1.5"},
		{"between transfers", "0xalice", "WSTETH", 29, "1.5"},
		{"after all transfers", "0xalice", "WSTETH", 100, "3.5"},
		{"case insensitive address", "0xALICE", "WSTETH", 30, "3.5"},
		{"other collateral", "0xalice", "RETH", 20, "7"},
		{"unknown address", "0xcarol", "WSTETH", 100, "0"},
		{"unknown collateral", "0xbob", "RETH", 100, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ledger.BridgedAt(tt.address, tt.cType, tt.block)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "expected %s, got %s", tt.want, got)
		})
	}
	assert.Equal(t, 5, ledger.Len())
}

func TestLedger_Nil(t *testing.T) {
	var ledger *Ledger
	assert.True(t, ledger.BridgedAt("0xa", "WETH", 1).IsZero())
	assert.Equal(t, 0, ledger.Len())
}

func TestLoadLedger(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBridgeTransferStore()
	require.NoError(t, store.InsertBulk(ctx, []*domain.BridgeTransfer{
		transfer("0x1", "0xalice", "WSTETH", 10, "1"),
		transfer("0x2", "0xalice", "WSTETH", 50, "2"),
	}))

	ledger, err := LoadLedger(ctx, store, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.Len())
	assert.True(t, ledger.BridgedAt("0xalice", "WSTETH", 100).Equal(decimal.NewFromInt(1)))
}

func TestDecode(t *testing.T) {
	input := `[
		{"txHash":"0x1","logIndex":3,"address":"0xalice","token":"WSTETH","blockHeight":10,"amount":"1500000000000000000"},
		{"txHash":"0x2","logIndex":0,"address":"0xbob","token":"RETH","blockHeight":11,"amount":"0xde0b6b3a7640000"}
	]`
	transfers, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	assert.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "WSTETH", transfers[0].CType)
	assert.Equal(t, int64(3), transfers[0].LogIndex)
	assert.True(t, transfers[1].Amount.Equal(decimal.NewFromInt(1)))
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"negative amount", `[{"address":"0xa","token":"RETH","amount":"-1"}]`},
		{"missing token", `[{"address":"0xa","amount":"1"}]`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}
