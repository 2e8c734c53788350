package verification

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/replay"
	"reward-distributor/internal/storage/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func table(rows ...[3]string) domain.PayoutTable {
	out := domain.PayoutTable{}
	for _, r := range rows {
		out[r[0]] = append(out[r[0]], domain.Payout{Address: r[1], Earned: dec(r[2])})
	}
	return out
}

func TestComparePayoutTables_ExactMatch(t *testing.T) {
	a := table([3]string{"KITE", "0xa", "10"}, [3]string{"OP", "0xb", "1.5"})
	b := table([3]string{"OP", "0xb", "1.500"}, [3]string{"KITE", "0xa", "10"})

	if d := ComparePayoutTables(a, b); len(d) != 0 {
		t.Errorf("expected no divergences, got %+v", d)
	}
}

func TestComparePayoutTables_WithinTolerance(t *testing.T) {
	a := table([3]string{"KITE", "0xa", "10"})
	b := table([3]string{"KITE", "0xa", "10.000000000000000001"})

	if d := ComparePayoutTables(a, b); len(d) != 0 {
		t.Errorf("expected no divergences, got %+v", d)
	}
}

func TestComparePayoutTables_Divergences(t *testing.T) {
	stored := table(
		[3]string{"KITE", "0xa", "10"},
		[3]string{"KITE", "0xc", "3"},
	)
	replayed := table(
		[3]string{"KITE", "0xa", "9"},
		[3]string{"KITE", "0xb", "4"},
	)

	d := ComparePayoutTables(stored, replayed)
	if len(d) != 3 {
		t.Fatalf("expected 3 divergences, got %d", len(d))
	}
	if d[0].Address != "0xa" || !d[0].Expected.Equal(dec("10")) || !d[0].Actual.Equal(dec("9")) {
		t.Errorf("unexpected divergence %+v", d[0])
	}
	if d[1].Address != "0xb" || !d[1].Expected.IsZero() {
		t.Errorf("replay-only payout should diverge against zero, got %+v", d[1])
	}
	if d[2].Address != "0xc" || !d[2].Actual.IsZero() {
		t.Errorf("stored-only payout should diverge against zero, got %+v", d[2])
	}
}

type fakeReplayer struct {
	table domain.PayoutTable
	err   error
}

func (f *fakeReplayer) RunAll(_ context.Context, _ string) (domain.PayoutTable, error) {
	return f.table, f.err
}

func TestReplayVerifier_VerifyRun(t *testing.T) {
	ctx := context.Background()
	payouts := memory.NewPayoutStore()
	stored := table([3]string{"KITE", "0xa", "10"}, [3]string{"KITE", "0xb", "5"})
	if err := payouts.InsertTable(ctx, "run-1", stored); err != nil {
		t.Fatalf("insert: %v", err)
	}

	v := NewReplayVerifier(ReplayVerifierOptions{
		Payouts:  payouts,
		Replayer: &fakeReplayer{table: stored},
	})
	report, err := v.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Match || report.PayoutsStored != 2 {
		t.Errorf("unexpected report %+v", report)
	}

	v = NewReplayVerifier(ReplayVerifierOptions{
		Payouts:  payouts,
		Replayer: &fakeReplayer{table: table([3]string{"KITE", "0xa", "10"})},
	})
	report, err = v.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Match || len(report.Divergences) != 1 {
		t.Errorf("expected one divergence, got %+v", report)
	}
}

func TestReplayVerifier_RunNotFound(t *testing.T) {
	v := NewReplayVerifier(ReplayVerifierOptions{
		Payouts:  memory.NewPayoutStore(),
		Replayer: &fakeReplayer{},
	})
	if _, err := v.VerifyRun(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestReplayVerifier_ReplayError(t *testing.T) {
	ctx := context.Background()
	payouts := memory.NewPayoutStore()
	if err := payouts.InsertTable(ctx, "run-1", table([3]string{"KITE", "0xa", "1"})); err != nil {
		t.Fatalf("insert: %v", err)
	}
	boom := errors.New("boom")
	v := NewReplayVerifier(ReplayVerifierOptions{Payouts: payouts, Replayer: &fakeReplayer{err: boom}})
	if _, err := v.VerifyRun(ctx, "run-1"); !errors.Is(err, boom) {
		t.Errorf("expected replay error, got %v", err)
	}
}

func TestReplayVerifier_WithArchiveReplay(t *testing.T) {
	ctx := context.Background()
	archives := memory.NewStreamArchiveStore()
	acc := domain.NewAccount("0xa")
	acc.Debt = dec("10")
	acc.StakingWeight = dec("10")
	err := archives.Save(ctx, &domain.StreamArchive{
		RunID:          "run-1",
		Stream:         "MINTER_REWARDS/KITE/ETH-A",
		Program:        domain.ProgramMinter,
		Token:          "KITE",
		CTypes:         []string{"ETH-A"},
		StartTimestamp: 10,
		EndTimestamp:   20,
		RewardAmount:   dec("7"),
		Rates:          domain.Rates{"ETH-A": dec("1")},
		Accounts:       []*domain.Account{acc},
	})
	if err != nil {
		t.Fatalf("save archive: %v", err)
	}

	payouts := memory.NewPayoutStore()
	if err := payouts.InsertTable(ctx, "run-1", table([3]string{"KITE", "0xa", "7"})); err != nil {
		t.Fatalf("insert: %v", err)
	}

	v := NewReplayVerifier(ReplayVerifierOptions{
		Payouts:  payouts,
		Replayer: replay.NewRunner(replay.Options{Archives: archives}),
	})
	report, err := v.VerifyRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Match {
		t.Errorf("expected match, got %+v", report.Divergences)
	}
}
