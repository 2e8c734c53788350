package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/events"
	"reward-distributor/internal/initial"
	"reward-distributor/internal/payout"
	"reward-distributor/internal/sources/exclusion"
	"reward-distributor/internal/sources/subgraph"
	"reward-distributor/internal/storage"
	"reward-distributor/internal/storage/memory"
)

var tolerance = decimal.RequireFromString("0.000000001")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeGEB struct {
	owners    map[string]string
	debts     []initial.SafeDebt
	mods      []events.SafeModification
	rate      decimal.Decimal
	ownersErr error

	ownerBlocks []uint64
}

func (f *fakeGEB) SafeOwners(_ context.Context, block uint64) (map[string]string, error) {
	f.ownerBlocks = append(f.ownerBlocks, block)
	return f.owners, f.ownersErr
}

func (f *fakeGEB) DebtModifications(_ context.Context, _, _ uint64, _ string) ([]events.SafeModification, error) {
	return f.mods, nil
}

func (f *fakeGEB) AccumulatedRateUpdates(_ context.Context, _, _ uint64, _ string) ([]*domain.RewardEvent, error) {
	return nil, nil
}

func (f *fakeGEB) RedemptionPrices(_ context.Context, from, _ int64) (*subgraph.PriceSeries, error) {
	return subgraph.NewPriceSeries([]subgraph.PricePoint{{Timestamp: from, Value: dec("3.01")}}), nil
}

func (f *fakeGEB) AccumulatedRate(_ context.Context, _ uint64, _ string) (decimal.Decimal, error) {
	return f.rate, nil
}

type fakePool struct {
	positions map[string][]domain.LpPosition
	swaps     []*domain.RewardEvent
}

func (f *fakePool) PositionUpdates(_ context.Context, _, _ uint64) ([]*domain.RewardEvent, error) {
	return nil, nil
}

func (f *fakePool) Swaps(_ context.Context, _, _ int64) ([]*domain.RewardEvent, error) {
	return f.swaps, nil
}

func (f *fakePool) SqrtPrice(_ context.Context, _ uint64) (decimal.Decimal, error) {
	return dec("1"), nil
}

type fakeSnapshots struct {
	geb  *fakeGEB
	pool *fakePool
}

func (f *fakeSnapshots) LpPositions(_ context.Context, _ uint64) (map[string][]domain.LpPosition, error) {
	if f.pool == nil {
		return nil, nil
	}
	return f.pool.positions, nil
}

func (f *fakeSnapshots) SafeDebts(_ context.Context, _ uint64, cType string) ([]initial.SafeDebt, error) {
	var out []initial.SafeDebt
	for _, d := range f.geb.debts {
		if d.CType == cType {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeTimestamps map[uint64]int64

func (f fakeTimestamps) BlockTimestamp(_ context.Context, block uint64) (int64, error) {
	ts, ok := f[block]
	if !ok {
		return 0, fmt.Errorf("no header for block %d", block)
	}
	return ts, nil
}

type testEnv struct {
	geb    *fakeGEB
	pool   *fakePool
	runs   *memory.RunStore
	cps    *memory.CheckpointStore
	arch   *memory.StreamArchiveStore
	pays   *memory.PayoutStore
	clock  *clockwork.FakeClock
	orch   *Orchestrator
	blocks fakeTimestamps
}

func newTestEnv(t *testing.T, excluded ...string) *testEnv {
	t.Helper()

	geb := &fakeGEB{
		owners: map[string]string{"h1": "0xA", "h2": "0xB"},
		debts: []initial.SafeDebt{
			{Handler: "h1", CType: "ETH-A", Debt: dec("100"), Collateral: dec("10")},
			{Handler: "h2", CType: "ETH-A", Debt: dec("100"), Collateral: dec("10")},
		},
		rate: dec("1"),
	}
	pool := &fakePool{
		positions: map[string][]domain.LpPosition{
			"0xc": {{TokenID: 1, LowerTick: domain.FullRangeLowerTick, UpperTick: domain.FullRangeUpperTick, Liquidity: dec("10")}},
		},
		swaps: []*domain.RewardEvent{{
			Type:      domain.EventPoolSwap,
			Timestamp: 1500,
			LogIndex:  domain.Int64Ptr(4),
			Value:     func() *decimal.Decimal { v := dec("1.0001"); return &v }(),
		}},
	}
	blocks := fakeTimestamps{100: 1000, 200: 2000}

	list, err := exclusion.New(excluded...)
	if err != nil {
		t.Fatalf("exclusion list: %v", err)
	}

	env := &testEnv{
		geb:    geb,
		pool:   pool,
		runs:   memory.NewRunStore(),
		cps:    memory.NewCheckpointStore(),
		arch:   memory.NewStreamArchiveStore(),
		pays:   memory.NewPayoutStore(),
		clock:  clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		blocks: blocks,
	}
	env.orch = New(Options{
		LP: ProgramSources{
			GEB:        geb,
			Pool:       pool,
			Snapshots:  &fakeSnapshots{geb: geb, pool: pool},
			Timestamps: blocks,
		},
		Minter: ProgramSources{
			GEB:        geb,
			Snapshots:  &fakeSnapshots{geb: geb},
			Timestamps: blocks,
		},
		Exclusion:       list,
		Runs:            env.runs,
		Checkpoints:     env.cps,
		Archives:        env.arch,
		Sinks:           []payout.Sink{payout.NewStoreSink(env.pays)},
		CheckpointEvery: 1,
		Clock:           env.clock,
		NewRunID:        func() string { return "run-1" },
	})
	return env
}

func programs() []domain.ProgramConfig {
	return []domain.ProgramConfig{
		{
			Program:      domain.ProgramLP,
			StartBlock:   100,
			EndBlock:     200,
			RewardToken:  "KITE",
			RewardAmount: dec("1000"),
		},
		{
			Program:      domain.ProgramMinter,
			StartBlock:   100,
			EndBlock:     200,
			RewardToken:  "KITE",
			RewardAmount: dec("500"),
			CTypes:       []string{"ETH-A"},
		},
	}
}

func earnedOf(t *testing.T, table domain.PayoutTable, token, addr string) decimal.Decimal {
	t.Helper()
	for _, p := range table[token] {
		if p.Address == addr {
			return p.Earned
		}
	}
	t.Fatalf("no %s payout for %s", token, addr)
	return decimal.Zero
}

func near(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(tolerance)
}

func TestOrchestrator_Run(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.orch.Run(ctx, programs())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.RunID != "run-1" {
		t.Errorf("expected run id run-1, got %s", res.RunID)
	}
	if len(res.Streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(res.Streams))
	}
	if res.Streams[0].Stream != "LP_REWARDS/KITE" || res.Streams[1].Stream != "MINTER_REWARDS/KITE/ETH-A" {
		t.Errorf("unexpected streams %s, %s", res.Streams[0].Stream, res.Streams[1].Stream)
	}
	if res.Streams[0].EventsApplied != 1 {
		t.Errorf("expected 1 lp event, got %d", res.Streams[0].EventsApplied)
	}

	if got := earnedOf(t, res.Payouts, "KITE", "0xc"); !near(got, dec("1000")) {
		t.Errorf("0xc earned %s, want 1000", got)
	}
	for _, addr := range []string{"0xa", "0xb"} {
		if got := earnedOf(t, res.Payouts, "KITE", addr); !near(got, dec("250")) {
			t.Errorf("%s earned %s, want 250", addr, got)
		}
	}
	if len(env.geb.ownerBlocks) != 1 || env.geb.ownerBlocks[0] != 200 {
		t.Errorf("owners should be read once at the end block, got %v", env.geb.ownerBlocks)
	}

	stored, err := env.pays.GetByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("payouts not stored: %v", err)
	}
	if len(stored["KITE"]) != 3 {
		t.Errorf("expected 3 stored payouts, got %d", len(stored["KITE"]))
	}

	run, err := env.runs.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("run not recorded: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded || run.Recipients != 3 || run.Programs != 2 {
		t.Errorf("unexpected run record %+v", run)
	}
	if run.StartBlock != 100 || run.EndBlock != 200 {
		t.Errorf("unexpected run window [%d, %d]", run.StartBlock, run.EndBlock)
	}

	streams, err := env.arch.ListStreams(ctx, "run-1")
	if err != nil {
		t.Fatalf("list streams: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("expected 2 archives, got %v", streams)
	}
	archive, err := env.arch.Load(ctx, "run-1", "MINTER_REWARDS/KITE/ETH-A")
	if err != nil {
		t.Fatalf("load archive: %v", err)
	}
	if len(archive.Accounts) != 2 || !archive.Accounts[0].Earned.IsZero() {
		t.Errorf("archive should hold the untouched initial state, got %+v", archive.Accounts)
	}
	if archive.StartTimestamp != 1000 || archive.EndTimestamp != 2000 {
		t.Errorf("unexpected archive window [%d, %d]", archive.StartTimestamp, archive.EndTimestamp)
	}

	cps, err := env.cps.GetByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}
	if len(cps) != 1 || cps[0].Stream != "LP_REWARDS/KITE" || cps[0].Sequence != 1 {
		t.Errorf("unexpected checkpoints %+v", cps)
	}
}

func TestOrchestrator_Run_Exclusion(t *testing.T) {
	env := newTestEnv(t, "0x000000000000000000000000000000000000000a")
	env.geb.owners["h1"] = "0x000000000000000000000000000000000000000A"

	res, err := env.orch.Run(context.Background(), programs()[1:])
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Payouts["KITE"]) != 1 {
		t.Fatalf("expected only 0xb to be paid, got %+v", res.Payouts["KITE"])
	}
	if got := earnedOf(t, res.Payouts, "KITE", "0xb"); !near(got, dec("500")) {
		t.Errorf("0xb earned %s, want 500", got)
	}
}

func TestOrchestrator_Run_DebtEvents(t *testing.T) {
	env := newTestEnv(t)
	env.geb.mods = []events.SafeModification{
		{ID: "0xtx-3", Handler: "h2", CType: "ETH-A", DeltaDebt: dec("200"), DeltaCollateral: dec("0"), Timestamp: 1500, Block: 150},
		{ID: "0xtx-4", Handler: "unknown", CType: "ETH-A", DeltaDebt: dec("50"), DeltaCollateral: dec("0"), Timestamp: 1600, Block: 160},
	}

	res, err := env.orch.Run(context.Background(), programs()[1:])
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Streams[0].EventsApplied != 1 {
		t.Errorf("unmapped handlers must be skipped, got %d events", res.Streams[0].EventsApplied)
	}

	// First half split 1:1, second half split 1:3.
	a := earnedOf(t, res.Payouts, "KITE", "0xa")
	b := earnedOf(t, res.Payouts, "KITE", "0xb")
	if !near(a, dec("187.5")) || !near(b, dec("312.5")) {
		t.Errorf("unexpected split a=%s b=%s", a, b)
	}
}

func TestOrchestrator_Run_FailureRecorded(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.geb.ownersErr = errors.New("subgraph down")

	if _, err := env.orch.Run(ctx, programs()); err == nil {
		t.Fatal("expected error")
	}

	run, err := env.runs.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed run not recorded: %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.Error == "" {
		t.Errorf("unexpected run record %+v", run)
	}
	if _, err := env.pays.GetByRun(ctx, "run-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("no payouts expected after failure, got %v", err)
	}
}

func TestOrchestrator_Run_MissingTimestamp(t *testing.T) {
	env := newTestEnv(t)
	delete(env.blocks, 200)

	if _, err := env.orch.Run(context.Background(), programs()); err == nil {
		t.Fatal("expected error for missing block header")
	}
}

func TestOrchestrator_Run_MissingPool(t *testing.T) {
	env := newTestEnv(t)
	env.orch.lp.Pool = nil

	_, err := env.orch.Run(context.Background(), programs()[:1])
	if !errors.Is(err, ErrMissingSource) {
		t.Fatalf("expected ErrMissingSource, got %v", err)
	}
}

func TestOrchestrator_Run_NoPrograms(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.orch.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty campaign")
	}
}
