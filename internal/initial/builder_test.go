package initial

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-distributor/internal/domain"
)

type fakeSnapshots struct {
	positions map[string][]domain.LpPosition
	debts     map[string][]SafeDebt
	err       error
}

func (f *fakeSnapshots) LpPositions(_ context.Context, _ uint64) (map[string][]domain.LpPosition, error) {
	return f.positions, f.err
}

func (f *fakeSnapshots) SafeDebts(_ context.Context, _ uint64, cType string) ([]SafeDebt, error) {
	return f.debts[cType], f.err
}

type fakeRates map[string]decimal.Decimal

func (f fakeRates) AccumulatedRate(_ context.Context, _ uint64, cType string) (decimal.Decimal, error) {
	rate, ok := f[cType]
	if !ok {
		return decimal.Zero, errors.New("no such collateral")
	}
	return rate, nil
}

type fakeBridge map[string]decimal.Decimal

func (f fakeBridge) BridgedAt(address, cType string, _ uint64) decimal.Decimal {
	return f[address+"/"+cType]
}

type fakeExclusion map[string]bool

func (f fakeExclusion) Contains(address string) bool { return f[address] }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fullRange(id uint64, liquidity string) domain.LpPosition {
	return domain.LpPosition{
		TokenID:   id,
		LowerTick: domain.FullRangeLowerTick,
		UpperTick: domain.FullRangeUpperTick,
		Liquidity: dec(liquidity),
	}
}

func lpConfig() domain.ProgramConfig {
	return domain.ProgramConfig{
		Program:      domain.ProgramLP,
		StartBlock:   100,
		EndBlock:     200,
		RewardAmount: dec("1000"),
		CTypes:       []string{"WETH"},
	}
}

func minterConfig(withBridge bool) domain.ProgramConfig {
	return domain.ProgramConfig{
		Program:      domain.ProgramMinter,
		StartBlock:   100,
		EndBlock:     200,
		RewardAmount: dec("1000"),
		CTypes:       []string{"WETH"},
		WithBridge:   withBridge,
	}
}

func TestBuild_LPPositions(t *testing.T) {
	snaps := &fakeSnapshots{positions: map[string][]domain.LpPosition{
		"0xa": {fullRange(1, "100"), {TokenID: 2, LowerTick: -10, UpperTick: 10, Liquidity: dec("50")}},
		"0xb": {fullRange(3, "300")},
	}}
	b := NewBuilder(Options{Snapshots: snaps, Rates: fakeRates{"WETH": dec("1.5")}})

	st, err := b.Build(context.Background(), lpConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Store.Len())
	assert.True(t, st.Rates["WETH"].Equal(dec("1.5")))

	a, ok := st.Store.Get("0xa")
	require.True(t, ok)
	assert.Len(t, a.LpPositions, 2)
	assert.True(t, a.StakingWeight.Equal(dec("100")), "only full-range liquidity counts")

	owner, ok := st.Store.Owner(3)
	require.True(t, ok)
	assert.Equal(t, "0xb", owner)
	assert.True(t, st.Store.TotalWeight().Equal(dec("400")))
}

func TestBuild_DuplicatePositionOwner(t *testing.T) {
	snaps := &fakeSnapshots{positions: map[string][]domain.LpPosition{
		"0xa": {fullRange(1, "100")},
		"0xb": {fullRange(1, "100")},
	}}
	b := NewBuilder(Options{Snapshots: snaps, Rates: fakeRates{"WETH": dec("1")}})

	_, err := b.Build(context.Background(), lpConfig(), nil)
	assert.ErrorIs(t, err, ErrInconsistentInitialState)
}

func TestBuild_MinterDebts(t *testing.T) {
	snaps := &fakeSnapshots{debts: map[string][]SafeDebt{
		"WETH": {
			{Handler: "h1", CType: "WETH", Debt: dec("100"), Collateral: dec("10")},
			{Handler: "h2", CType: "WETH", Debt: dec("50"), Collateral: dec("5")},
			{Handler: "h3", CType: "WETH", Debt: dec("20"), Collateral: dec("2")},
			{Handler: "orphan", CType: "WETH", Debt: dec("999"), Collateral: dec("1")},
		},
	}}
	owners := map[string]string{"h1": "0xa", "h2": "0xa", "h3": "0xb"}
	b := NewBuilder(Options{Snapshots: snaps, Rates: fakeRates{"WETH": dec("1.1")}})

	st, err := b.Build(context.Background(), minterConfig(false), owners)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Store.Len(), "orphan handler is skipped")
	a, _ := st.Store.Get("0xa")
	assert.True(t, a.Debt.Equal(dec("165")), "debt is raw debt times the rate: %s", a.Debt)
	assert.True(t, a.Collateral.Equal(dec("15")))
	assert.True(t, a.StakingWeight.Equal(a.Debt))

	bAcc, _ := st.Store.Get("0xb")
	assert.True(t, bAcc.Debt.Equal(dec("22")))
}

func TestBuild_MinterWithBridge(t *testing.T) {
	snaps := &fakeSnapshots{debts: map[string][]SafeDebt{
		"WETH": {{Handler: "h1", CType: "WETH", Debt: dec("1000"), Collateral: dec("1000")}},
	}}
	bridge := fakeBridge{"0xa/WETH": dec("500")}
	b := NewBuilder(Options{
		Snapshots: snaps,
		Rates:     fakeRates{"WETH": dec("1")},
		Bridge:    bridge,
	})

	st, err := b.Build(context.Background(), minterConfig(true), map[string]string{"h1": "0xa"})
	require.NoError(t, err)

	a, _ := st.Store.Get("0xa")
	assert.True(t, a.TotalBridgedTokens.Equal(dec("500")))
	assert.True(t, a.StakingWeight.Equal(dec("500")), "weight scaled by bridged ratio: %s", a.StakingWeight)
}

func TestBuild_MinterWithBridgeButNoSource(t *testing.T) {
	snaps := &fakeSnapshots{debts: map[string][]SafeDebt{
		"WETH": {{Handler: "h1", CType: "WETH", Debt: dec("1000"), Collateral: dec("1000")}},
	}}
	b := NewBuilder(Options{Snapshots: snaps, Rates: fakeRates{"WETH": dec("1")}})

	st, err := b.Build(context.Background(), minterConfig(true), map[string]string{"h1": "0xa"})
	require.NoError(t, err)

	a, _ := st.Store.Get("0xa")
	assert.True(t, a.StakingWeight.Equal(dec("1000")), "weight falls back to debt: %s", a.StakingWeight)
	assert.True(t, st.Store.TotalWeight().Equal(dec("1000")))
}

func TestBuild_Exclusion(t *testing.T) {
	snaps := &fakeSnapshots{positions: map[string][]domain.LpPosition{
		"0xA": {fullRange(1, "100")},
		"0xb": {fullRange(2, "100")},
	}}
	b := NewBuilder(Options{
		Snapshots: snaps,
		Rates:     fakeRates{"WETH": dec("1")},
		Exclusion: fakeExclusion{"0xa": true},
	})

	st, err := b.Build(context.Background(), lpConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, st.Store.Len())
	_, ok := st.Store.Get("0xA")
	assert.False(t, ok)
	_, ok = st.Store.Owner(1)
	assert.False(t, ok, "excluded account positions are unindexed")
}

func TestBuild_SourceErrors(t *testing.T) {
	t.Run("rate", func(t *testing.T) {
		b := NewBuilder(Options{Snapshots: &fakeSnapshots{}, Rates: fakeRates{}})
		_, err := b.Build(context.Background(), lpConfig(), nil)
		assert.Error(t, err)
	})

	t.Run("snapshot", func(t *testing.T) {
		boom := errors.New("boom")
		b := NewBuilder(Options{Snapshots: &fakeSnapshots{err: boom}, Rates: fakeRates{"WETH": dec("1")}})
		_, err := b.Build(context.Background(), lpConfig(), nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("missing rate for safe", func(t *testing.T) {
		snaps := &fakeSnapshots{debts: map[string][]SafeDebt{
			"WETH": {{Handler: "h1", CType: "WSTETH", Debt: dec("1")}},
		}}
		b := NewBuilder(Options{Snapshots: snaps, Rates: fakeRates{"WETH": dec("1")}})
		_, err := b.Build(context.Background(), minterConfig(false), map[string]string{"h1": "0xa"})
		assert.ErrorIs(t, err, ErrInconsistentInitialState)
	})
}

func TestValidate(t *testing.T) {
	snaps := &fakeSnapshots{positions: map[string][]domain.LpPosition{"0xa": {fullRange(1, "1")}}}
	b := NewBuilder(Options{Snapshots: snaps, Rates: fakeRates{"WETH": dec("1")}})
	st, err := b.Build(context.Background(), lpConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, Validate(st.Store))

	a, _ := st.Store.Get("0xa")
	a.LpPositions = nil
	assert.ErrorIs(t, Validate(st.Store), ErrInconsistentInitialState)

	a.LpPositions = []domain.LpPosition{}
	a.Earned = dec("1")
	assert.ErrorIs(t, Validate(st.Store), ErrInconsistentInitialState)
}
