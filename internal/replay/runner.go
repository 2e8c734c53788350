// Package replay re-runs archived program streams offline.
package replay

import (
	"context"
	"fmt"
	"log/slog"

	"reward-distributor/internal/accounts"
	"reward-distributor/internal/accrual"
	"reward-distributor/internal/domain"
	"reward-distributor/internal/results"
	"reward-distributor/internal/sources/subgraph"
	"reward-distributor/internal/storage"
)

// PriceSource loads redemption prices for LP replays.
type PriceSource interface {
	RedemptionPrices(ctx context.Context, from, to int64) (*subgraph.PriceSeries, error)
}

// Options for creating Runner.
type Options struct {
	Archives storage.StreamArchiveStore
	Bridge   accrual.BridgeSource // optional, borrow streams with bridging
	Prices   PriceSource          // optional, LP streams
	Logger   *slog.Logger
}

// Runner loads archived streams and replays them through the accrual engine.
type Runner struct {
	archives storage.StreamArchiveStore
	bridge   accrual.BridgeSource
	prices   PriceSource
	logger   *slog.Logger
}

// NewRunner creates a new replay runner.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		archives: opts.Archives,
		bridge:   opts.Bridge,
		prices:   opts.Prices,
		logger:   logger,
	}
}

// Run replays one archived stream. The archive is not modified.
func (r *Runner) Run(ctx context.Context, runID, stream string) (*accrual.Result, error) {
	a, err := r.archives.Load(ctx, runID, stream)
	if err != nil {
		return nil, fmt.Errorf("load archive %s/%s: %w", runID, stream, err)
	}
	return r.replay(ctx, a)
}

func (r *Runner) replay(ctx context.Context, a *domain.StreamArchive) (*accrual.Result, error) {
	store, err := accounts.Restore(a.Accounts)
	if err != nil {
		return nil, fmt.Errorf("restore accounts of %s: %w", a.Stream, err)
	}

	cfg := accrual.Config{
		Program:        a.Program,
		StartTimestamp: a.StartTimestamp,
		EndTimestamp:   a.EndTimestamp,
		RewardAmount:   a.RewardAmount,
		WithBridge:     a.WithBridge,
		Rates:          a.Rates,
		SqrtPrice:      a.SqrtPrice,
		Token:          a.Token,
		Logger:         r.logger.With("stream", a.Stream),
	}
	if a.WithBridge && r.bridge != nil {
		cfg.Bridge = r.bridge
	}
	if a.Program == domain.ProgramLP && r.prices != nil {
		series, err := r.prices.RedemptionPrices(ctx, a.StartTimestamp, a.EndTimestamp)
		if err != nil {
			return nil, fmt.Errorf("redemption prices: %w", err)
		}
		if series != nil {
			cfg.RedemptionPrices = series
		}
	}

	engine, err := accrual.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, store, a.Events)
}

// RunAll replays every archived stream of a run and combines the payouts.
func (r *Runner) RunAll(ctx context.Context, runID string) (domain.PayoutTable, error) {
	streams, err := r.archives.ListStreams(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, storage.ErrNotFound)
	}
	return r.RunStreams(ctx, runID, streams...)
}

// RunStreams replays the named streams of a run and combines their payouts.
func (r *Runner) RunStreams(ctx context.Context, runID string, streams ...string) (domain.PayoutTable, error) {
	tables := make([]domain.PayoutTable, 0, len(streams))
	for _, stream := range streams {
		a, err := r.archives.Load(ctx, runID, stream)
		if err != nil {
			return nil, fmt.Errorf("load archive %s/%s: %w", runID, stream, err)
		}
		res, err := r.replay(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stream, err)
		}
		tables = append(tables, domain.PayoutTable{a.Token: results.FromAccounts(res.Accounts)})
		r.logger.Info("replayed stream", "stream", stream, "events", res.EventsApplied,
			"total_earned", res.TotalEarned.String())
	}
	return results.Combine(tables...), nil
}
