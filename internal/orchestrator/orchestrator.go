// Package orchestrator runs a distribution campaign.
// It coordinates: initial state → event collection → accrual → payouts
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"reward-distributor/internal/accrual"
	"reward-distributor/internal/domain"
	"reward-distributor/internal/events"
	"reward-distributor/internal/initial"
	"reward-distributor/internal/observability"
	"reward-distributor/internal/payout"
	"reward-distributor/internal/results"
	"reward-distributor/internal/sources/chain"
	"reward-distributor/internal/sources/subgraph"
	"reward-distributor/internal/storage"
)

// ErrMissingSource is returned when a program run has no data source configured.
var ErrMissingSource = errors.New("missing data source")

const defaultConcurrency = 4

// GEBSource serves protocol data of one deployment.
type GEBSource interface {
	initial.RateSource

	// SafeOwners maps safe handlers to owner addresses at block.
	SafeOwners(ctx context.Context, block uint64) (map[string]string, error)

	// DebtModifications returns per-handler debt changes in [start, end].
	DebtModifications(ctx context.Context, startBlock, endBlock uint64, cType string) ([]events.SafeModification, error)

	// AccumulatedRateUpdates returns rate update events in [start, end].
	AccumulatedRateUpdates(ctx context.Context, startBlock, endBlock uint64, cType string) ([]*domain.RewardEvent, error)

	// RedemptionPrices returns redemption prices covering [from, to].
	RedemptionPrices(ctx context.Context, from, to int64) (*subgraph.PriceSeries, error)
}

// PoolSource serves the incentivised pool.
type PoolSource interface {
	PositionUpdates(ctx context.Context, startBlock, endBlock uint64) ([]*domain.RewardEvent, error)
	Swaps(ctx context.Context, startTime, endTime int64) ([]*domain.RewardEvent, error)
	SqrtPrice(ctx context.Context, block uint64) (decimal.Decimal, error)
}

// ProgramSources are the data sources of one program.
type ProgramSources struct {
	GEB        GEBSource
	Pool       PoolSource // LP program only
	Snapshots  initial.SnapshotSource
	Timestamps chain.TimestampSource
}

// Options for creating Orchestrator.
type Options struct {
	LP     ProgramSources
	Minter ProgramSources

	Bridge    initial.BridgeSource // optional
	Exclusion events.Exclusion     // optional

	// Optional stores
	Runs        storage.RunStore
	Checkpoints storage.CheckpointStore
	Archives    storage.StreamArchiveStore

	Sinks []payout.Sink

	CheckpointEvery int
	Concurrency     int // program runs replayed in parallel, default 4

	Clock    clockwork.Clock
	NewRunID func() string // default uuid.NewString
	Logger   *slog.Logger
}

// Orchestrator coordinates campaign execution.
type Orchestrator struct {
	lp     ProgramSources
	minter ProgramSources

	bridge    initial.BridgeSource
	exclusion events.Exclusion

	runs        storage.RunStore
	checkpoints storage.CheckpointStore
	archives    storage.StreamArchiveStore
	sinks       []payout.Sink

	checkpointEvery int
	concurrency     int
	clock           clockwork.Clock
	newRunID        func() string
	logger          *slog.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		lp:              opts.LP,
		minter:          opts.Minter,
		bridge:          opts.Bridge,
		exclusion:       opts.Exclusion,
		runs:            opts.Runs,
		checkpoints:     opts.Checkpoints,
		archives:        opts.Archives,
		sinks:           opts.Sinks,
		checkpointEvery: opts.CheckpointEvery,
		concurrency:     opts.Concurrency,
		clock:           opts.Clock,
		newRunID:        opts.NewRunID,
		logger:          opts.Logger,
	}
	if o.concurrency <= 0 {
		o.concurrency = defaultConcurrency
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// StreamResult is the outcome of one program run.
type StreamResult struct {
	Stream        string
	Program       domain.Program
	Token         string
	EventsApplied int
	TotalEarned   decimal.Decimal
	Payouts       []domain.Payout
}

// RunResult contains results from orchestrator execution.
type RunResult struct {
	RunID   string
	Streams []StreamResult // in program order
	Payouts domain.PayoutTable
}

// Run replays every program run and combines, persists and exports the
// payouts. A failing program run fails the whole campaign; no payouts are
// written in that case.
func (o *Orchestrator) Run(ctx context.Context, programs []domain.ProgramConfig) (*RunResult, error) {
	runID := o.newRunID()
	started := o.clock.Now()
	logger := o.logger.With("run_id", runID)

	run := &domain.CampaignRun{
		RunID:     runID,
		StartedAt: started.Unix(),
		Programs:  len(programs),
	}
	for i, p := range programs {
		if i == 0 || p.StartBlock < run.StartBlock {
			run.StartBlock = p.StartBlock
		}
		if p.EndBlock > run.EndBlock {
			run.EndBlock = p.EndBlock
		}
	}

	res, err := o.run(ctx, logger, runID, programs)
	run.FinishedAt = o.clock.Now().Unix()
	elapsed := o.clock.Since(started).Seconds()
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		observability.RecordRun("campaign", string(run.Status), elapsed)
		o.saveRun(ctx, logger, run)
		return nil, err
	}

	run.Status = domain.RunStatusSucceeded
	run.Recipients = countRecipients(res.Payouts)
	observability.RecordRun("campaign", string(run.Status), elapsed)
	observability.MarkRunSucceeded(run.FinishedAt)
	o.saveRun(ctx, logger, run)

	logger.Info("campaign completed",
		"programs", len(programs),
		"recipients", run.Recipients,
		"duration", time.Duration(elapsed*float64(time.Second)).Round(time.Millisecond),
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, runID string, programs []domain.ProgramConfig) (*RunResult, error) {
	if len(programs) == 0 {
		return nil, fmt.Errorf("%w: no programs", accrual.ErrInvalidConfig)
	}

	owners, err := o.loadOwners(ctx, programs)
	if err != nil {
		return nil, fmt.Errorf("load safe owners: %w", err)
	}

	streams := make([]StreamResult, len(programs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, p := range programs {
		g.Go(func() error {
			sr, err := o.runProgram(gctx, logger, runID, p, owners)
			if err != nil {
				return fmt.Errorf("%s: %w", domain.StreamLabel(p.Program, p.RewardToken, p.RunCType()), err)
			}
			streams[i] = *sr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tables := make([]domain.PayoutTable, 0, len(streams))
	for _, s := range streams {
		tables = append(tables, domain.PayoutTable{s.Token: s.Payouts})
	}
	combined := results.Combine(tables...)

	if err := payout.WriteAll(ctx, logger, runID, combined, o.sinks...); err != nil {
		return nil, err
	}
	return &RunResult{RunID: runID, Streams: streams, Payouts: combined}, nil
}

// loadOwners fetches the safe ownership mapping at the latest borrow end
// block. LP-only campaigns need none.
func (o *Orchestrator) loadOwners(ctx context.Context, programs []domain.ProgramConfig) (map[string]string, error) {
	var endBlock uint64
	for _, p := range programs {
		if p.Program == domain.ProgramMinter && p.EndBlock > endBlock {
			endBlock = p.EndBlock
		}
	}
	if endBlock == 0 {
		return map[string]string{}, nil
	}
	if o.minter.GEB == nil {
		return nil, fmt.Errorf("%w: minter GEB", ErrMissingSource)
	}
	owners, err := o.minter.GEB.SafeOwners(ctx, endBlock)
	if err != nil {
		return nil, err
	}
	o.logger.Info("loaded safe owners", "block", endBlock, "handlers", len(owners))
	return owners, nil
}

func (o *Orchestrator) sourcesFor(program domain.Program) (ProgramSources, error) {
	var src ProgramSources
	switch program {
	case domain.ProgramLP:
		src = o.lp
		if src.Pool == nil {
			return src, fmt.Errorf("%w: %s pool", ErrMissingSource, program)
		}
	case domain.ProgramMinter:
		src = o.minter
	default:
		return src, fmt.Errorf("%w: program %q", accrual.ErrInvalidConfig, program)
	}
	if src.GEB == nil || src.Snapshots == nil || src.Timestamps == nil {
		return src, fmt.Errorf("%w: %s sources incomplete", ErrMissingSource, program)
	}
	return src, nil
}

func (o *Orchestrator) runProgram(
	ctx context.Context,
	logger *slog.Logger,
	runID string,
	cfg domain.ProgramConfig,
	owners map[string]string,
) (*StreamResult, error) {
	stream := domain.StreamLabel(cfg.Program, cfg.RewardToken, cfg.RunCType())
	logger = logger.With("stream", stream)

	src, err := o.sourcesFor(cfg.Program)
	if err != nil {
		return nil, err
	}

	startTS, err := src.Timestamps.BlockTimestamp(ctx, cfg.StartBlock)
	if err != nil {
		return nil, fmt.Errorf("start block timestamp: %w", err)
	}
	endTS, err := src.Timestamps.BlockTimestamp(ctx, cfg.EndBlock)
	if err != nil {
		return nil, fmt.Errorf("end block timestamp: %w", err)
	}

	var bridge initial.BridgeSource
	if cfg.WithBridge {
		bridge = o.bridge
	}
	state, err := initial.NewBuilder(initial.Options{
		Snapshots: src.Snapshots,
		Rates:     src.GEB,
		Bridge:    bridge,
		Exclusion: o.exclusion,
		Logger:    logger,
	}).Build(ctx, cfg, owners)
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}

	evts, err := events.NewCollector(o.exclusion, logger, o.eventSources(src, cfg, owners, startTS, endTS)...).Collect(ctx)
	if err != nil {
		return nil, err
	}

	engineCfg := accrual.Config{
		Program:         cfg.Program,
		StartTimestamp:  startTS,
		EndTimestamp:    endTS,
		RewardAmount:    cfg.RewardAmount,
		WithBridge:      cfg.WithBridge,
		Rates:           state.Rates,
		SqrtPrice:       decimal.Zero,
		CheckpointEvery: o.checkpointEvery,
		Token:           cfg.RewardToken,
		Logger:          logger,
	}
	if bridge != nil {
		engineCfg.Bridge = bridge
	}
	if cfg.Program == domain.ProgramLP {
		sqrtPrice, err := src.Pool.SqrtPrice(ctx, cfg.StartBlock)
		if err != nil {
			return nil, fmt.Errorf("pool price: %w", err)
		}
		engineCfg.SqrtPrice = sqrtPrice
		prices, err := src.GEB.RedemptionPrices(ctx, startTS, endTS)
		if err != nil {
			return nil, fmt.Errorf("redemption prices: %w", err)
		}
		if prices != nil {
			engineCfg.RedemptionPrices = prices
		}
	}

	engine, err := accrual.NewEngine(engineCfg)
	if err != nil {
		return nil, err
	}

	archive := &domain.StreamArchive{
		RunID:          runID,
		Stream:         stream,
		Program:        cfg.Program,
		Token:          cfg.RewardToken,
		CTypes:         cfg.CTypes,
		StartBlock:     cfg.StartBlock,
		EndBlock:       cfg.EndBlock,
		StartTimestamp: startTS,
		EndTimestamp:   endTS,
		RewardAmount:   cfg.RewardAmount,
		WithBridge:     cfg.WithBridge,
		Rates:          state.Rates.Clone(),
		SqrtPrice:      engineCfg.SqrtPrice,
		Accounts:       state.Store.Snapshot(),
		Events:         evts,
	}

	res, err := engine.Run(ctx, state.Store, evts)
	if err != nil {
		return nil, err
	}

	if err := o.persist(ctx, archive, res.Checkpoints); err != nil {
		return nil, err
	}

	return &StreamResult{
		Stream:        stream,
		Program:       cfg.Program,
		Token:         cfg.RewardToken,
		EventsApplied: res.EventsApplied,
		TotalEarned:   res.TotalEarned,
		Payouts:       results.FromAccounts(res.Accounts),
	}, nil
}

// eventSources lists the sub-streams a program run replays.
func (o *Orchestrator) eventSources(
	src ProgramSources,
	cfg domain.ProgramConfig,
	owners map[string]string,
	startTS, endTS int64,
) []events.Source {
	var out []events.Source
	switch cfg.Program {
	case domain.ProgramLP:
		out = append(out,
			events.Source{Name: "position_updates", Fetch: func(ctx context.Context) ([]*domain.RewardEvent, error) {
				return src.Pool.PositionUpdates(ctx, cfg.StartBlock, cfg.EndBlock)
			}},
			events.Source{Name: "pool_swaps", Fetch: func(ctx context.Context) ([]*domain.RewardEvent, error) {
				return src.Pool.Swaps(ctx, startTS, endTS)
			}},
		)
	case domain.ProgramMinter:
		for _, cType := range cfg.CTypes {
			out = append(out, events.Source{Name: "delta_debt/" + cType, Fetch: func(ctx context.Context) ([]*domain.RewardEvent, error) {
				mods, err := src.GEB.DebtModifications(ctx, cfg.StartBlock, cfg.EndBlock, cType)
				if err != nil {
					return nil, err
				}
				return events.DebtEvents(mods, owners)
			}})
		}
	}
	for _, cType := range cfg.CTypes {
		out = append(out, events.Source{Name: "accumulated_rate/" + cType, Fetch: func(ctx context.Context) ([]*domain.RewardEvent, error) {
			return src.GEB.AccumulatedRateUpdates(ctx, cfg.StartBlock, cfg.EndBlock, cType)
		}})
	}
	return out
}

func (o *Orchestrator) persist(ctx context.Context, archive *domain.StreamArchive, checkpoints []accrual.Checkpoint) error {
	if o.archives != nil {
		if err := o.archives.Save(ctx, archive); err != nil {
			return fmt.Errorf("save stream archive: %w", err)
		}
	}
	if o.checkpoints != nil && len(checkpoints) > 0 {
		rows := make([]*domain.AccrualCheckpoint, 0, len(checkpoints))
		for _, c := range checkpoints {
			rows = append(rows, &domain.AccrualCheckpoint{
				RunID:              archive.RunID,
				Stream:             archive.Stream,
				Sequence:           c.Sequence,
				Timestamp:          c.Timestamp,
				RewardPerWeight:    c.RewardPerWeight,
				TotalStakingWeight: c.TotalStakingWeight,
				TotalEarned:        c.TotalEarned,
				Accounts:           c.Accounts,
			})
		}
		if err := o.checkpoints.InsertBulk(ctx, rows); err != nil {
			return fmt.Errorf("save checkpoints: %w", err)
		}
	}
	return nil
}

// saveRun records the run; a failure here is logged, not returned.
func (o *Orchestrator) saveRun(ctx context.Context, logger *slog.Logger, run *domain.CampaignRun) {
	if o.runs == nil {
		return
	}
	if err := o.runs.Insert(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("failed to record run", "error", err)
	}
}

func countRecipients(table domain.PayoutTable) int {
	seen := make(map[string]struct{})
	for _, payouts := range table {
		for _, p := range payouts {
			seen[p.Address] = struct{}{}
		}
	}
	return len(seen)
}
