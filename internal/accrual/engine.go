// Package accrual replays an ordered event stream against an account store and
// accumulates rewards.
//
// The engine keeps a global reward-per-weight accumulator. Between two events
// the accumulator grows by dt*rewardRate/totalStakingWeight. Every account is
// credited (earned += (accumulator - stored) * weight) before its weight
// changes, so an account is always paid at the weight it held during each
// interval.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/accounts"
	"reward-distributor/internal/domain"
	"reward-distributor/internal/fixed"
	"reward-distributor/internal/observability"
	"reward-distributor/internal/weight"
)

// RedemptionRefreshInterval is the event-time cadence of redemption price
// refreshes in the LP program.
const RedemptionRefreshInterval int64 = 24 * 3600

const progressEvery = 1000

// BridgeSource returns the cumulative bridged amount of a collateral type for
// an address as of a block. Data is loaded before the replay starts.
type BridgeSource interface {
	BridgedAt(address, cType string, block uint64) decimal.Decimal
}

// RedemptionPriceSeries returns the latest redemption price at or before a
// timestamp. Data is loaded before the replay starts.
type RedemptionPriceSeries interface {
	PriceAt(timestamp int64) (decimal.Decimal, bool)
}

// Config holds the parameters of one replay run.
type Config struct {
	Program        domain.Program
	StartTimestamp int64
	EndTimestamp   int64
	RewardAmount   decimal.Decimal
	WithBridge     bool

	Rates     domain.Rates    // accumulated rates at the start block
	SqrtPrice decimal.Decimal // pool price at the start block

	Bridge           BridgeSource          // optional, borrow program
	RedemptionPrices RedemptionPriceSeries // optional, LP program

	// CheckpointEvery records a checkpoint every N events. Zero disables.
	CheckpointEvery int

	// Token labels metrics and logs only.
	Token string

	Logger *slog.Logger
}

// State is the global replay state.
type State struct {
	Timestamp                 int64
	TotalStakingWeight        decimal.Decimal
	RewardPerWeight           decimal.Decimal
	Rates                     domain.Rates
	SqrtPrice                 decimal.Decimal
	RedemptionPrice           decimal.Decimal
	RedemptionPriceLastUpdate int64
}

// Checkpoint is a summary of the replay state after a number of events.
type Checkpoint struct {
	Sequence           int
	Timestamp          int64
	RewardPerWeight    decimal.Decimal
	TotalStakingWeight decimal.Decimal
	TotalEarned        decimal.Decimal
	Accounts           int
}

// Result is the outcome of a successful replay.
type Result struct {
	Program        domain.Program
	RewardRate     decimal.Decimal
	FinalTimestamp int64
	EventsApplied  int
	TotalEarned    decimal.Decimal
	State          State
	Accounts       []*domain.Account // sorted by address
	Checkpoints    []Checkpoint
}

// Engine replays events for one program run.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if !cfg.Program.IsValid() {
		return nil, fmt.Errorf("%w: program %q", ErrInvalidConfig, cfg.Program)
	}
	if cfg.EndTimestamp <= cfg.StartTimestamp {
		return nil, fmt.Errorf("%w: end timestamp %d not after start %d",
			ErrInvalidConfig, cfg.EndTimestamp, cfg.StartTimestamp)
	}
	if cfg.RewardAmount.IsNegative() {
		return nil, fmt.Errorf("%w: negative reward amount %s", ErrInvalidConfig, cfg.RewardAmount)
	}
	if cfg.CheckpointEvery < 0 {
		return nil, fmt.Errorf("%w: negative checkpoint interval", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With("program", string(cfg.Program)),
	}, nil
}

// run is the mutable state of one Run call.
type run struct {
	*Engine
	store      *accounts.Store
	state      State
	rewardRate decimal.Decimal
}

// Run replays events against store. Events must be merged and validated.
// The store is mutated in place; on error it is left mid-replay and must be
// discarded, and no result is returned.
func (e *Engine) Run(ctx context.Context, store *accounts.Store, evts []*domain.RewardEvent) (*Result, error) {
	res, err := e.replay(ctx, store, evts)
	if err != nil {
		observability.RecordReplayError(string(e.cfg.Program), errorKind(err))
		return nil, err
	}
	return res, nil
}

func (e *Engine) replay(ctx context.Context, store *accounts.Store, evts []*domain.RewardEvent) (*Result, error) {
	duration := decimal.NewFromInt(e.cfg.EndTimestamp - e.cfg.StartTimestamp)
	r := &run{
		Engine:     e,
		store:      store,
		rewardRate: fixed.DivPrecise(e.cfg.RewardAmount, duration),
		state: State{
			Timestamp:          e.cfg.StartTimestamp,
			TotalStakingWeight: store.TotalWeight(),
			RewardPerWeight:    fixed.Zero,
			Rates:              e.cfg.Rates.Clone(),
			SqrtPrice:          e.cfg.SqrtPrice,
			RedemptionPrice:    fixed.One,
		},
	}

	e.logger.Info("distributing rewards",
		"token", e.cfg.Token,
		"amount", e.cfg.RewardAmount.String(),
		"rate_per_sec", r.rewardRate.StringFixed(fixed.Scale),
		"start", e.cfg.StartTimestamp,
		"end", e.cfg.EndTimestamp,
		"accounts", store.Len(),
		"total_staking_weight", r.state.TotalStakingWeight.String(),
	)

	var checkpoints []Checkpoint
	for i, ev := range evts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 && i%progressEvery == 0 {
			e.logger.Info("processed events", "count", i)
		}
		if err := r.apply(ev); err != nil {
			return nil, err
		}
		observability.RecordEventProcessed(string(e.cfg.Program), string(ev.Type))

		if e.cfg.CheckpointEvery > 0 && (i+1)%e.cfg.CheckpointEvery == 0 {
			checkpoints = append(checkpoints, r.checkpoint(i+1))
		}
	}

	if err := CheckFinal(r.state.Timestamp, e.cfg.EndTimestamp); err != nil {
		return nil, err
	}

	// Pay out the time elapsed since the last event.
	r.advance(e.cfg.EndTimestamp)
	for _, acc := range store.All() {
		r.earn(acc)
		if err := CheckAccount(acc, nil); err != nil {
			return nil, err
		}
	}

	total := store.TotalEarned()
	e.logger.Info("all events applied",
		"events", len(evts),
		"total_allocated_reward", total.String(),
	)
	allocated, _ := total.Float64()
	observability.RecordReplayResult(string(e.cfg.Program), e.cfg.Token, store.Len(), allocated)

	return &Result{
		Program:        e.cfg.Program,
		RewardRate:     r.rewardRate,
		FinalTimestamp: r.state.Timestamp,
		EventsApplied:  len(evts),
		TotalEarned:    total,
		State:          r.state,
		Accounts:       store.Sorted(),
		Checkpoints:    checkpoints,
	}, nil
}

// apply processes one event: advance, credit and transition, sanity check,
// then refresh the total weight.
func (r *run) apply(ev *domain.RewardEvent) error {
	if ev.Timestamp < r.state.Timestamp {
		return eventError(ErrEventOutOfOrder, ev)
	}

	if r.cfg.Program == domain.ProgramLP {
		r.refreshRedemptionPrice(ev.Timestamp)
	}

	r.advance(ev.Timestamp)

	var (
		touched []*domain.Account
		err     error
	)
	switch ev.Type {
	case domain.EventDeltaDebt:
		touched, err = r.deltaDebt(ev)
	case domain.EventPoolPositionUpdate:
		touched, err = r.positionUpdate(ev)
	case domain.EventPoolSwap:
		touched, err = r.poolSwap(ev)
	case domain.EventUpdateAccumulatedRate:
		touched, err = r.accumulatedRate(ev)
	default:
		err = eventError(ErrUnknownEventType, ev)
	}
	if err != nil {
		return err
	}

	for _, acc := range touched {
		if err := CheckAccount(acc, ev); err != nil {
			return err
		}
	}

	r.state.TotalStakingWeight = r.store.TotalWeight()
	return nil
}

// advance moves the accumulator and the clock to ts.
func (r *run) advance(ts int64) {
	if r.state.TotalStakingWeight.IsPositive() {
		dt := decimal.NewFromInt(ts - r.state.Timestamp)
		delta := fixed.DivPrecise(fixed.MulPrecise(dt, r.rewardRate), r.state.TotalStakingWeight)
		r.state.RewardPerWeight = r.state.RewardPerWeight.Add(delta)
	}
	r.state.Timestamp = ts
}

// earn credits acc up to the current accumulator value.
func (r *run) earn(acc *domain.Account) {
	delta := r.state.RewardPerWeight.Sub(acc.RewardPerWeightStored)
	acc.Earned = acc.Earned.Add(fixed.Mul(delta, acc.StakingWeight))
	acc.RewardPerWeightStored = r.state.RewardPerWeight
}

func (r *run) earnAll() []*domain.Account {
	all := r.store.All()
	for _, acc := range all {
		r.earn(acc)
	}
	return all
}

func (r *run) reweigh(acc *domain.Account) {
	acc.StakingWeight = weight.ForAccount(acc, r.cfg.Program, r.cfg.WithBridge && r.cfg.Bridge != nil)
}

func (r *run) refreshBridged(acc *domain.Account, cType string, block uint64) {
	if r.cfg.Program != domain.ProgramMinter || r.cfg.Bridge == nil {
		return
	}
	acc.TotalBridgedTokens = r.cfg.Bridge.BridgedAt(acc.Address, cType, block)
}

func (r *run) refreshRedemptionPrice(ts int64) {
	if r.cfg.RedemptionPrices == nil || r.state.RedemptionPriceLastUpdate+RedemptionRefreshInterval > ts {
		return
	}
	if price, ok := r.cfg.RedemptionPrices.PriceAt(ts); ok {
		r.state.RedemptionPrice = price
	}
	r.state.RedemptionPriceLastUpdate = ts
}

func (r *run) deltaDebt(ev *domain.RewardEvent) ([]*domain.Account, error) {
	acc := r.store.GetOrCreate(ev.Address)
	r.earn(acc)

	rate, ok := r.state.Rates[ev.CType]
	if !ok {
		return nil, eventError(ErrUnknownCollateralType, ev)
	}
	acc.Debt = acc.Debt.Add(fixed.Mul(*ev.Value, rate))

	if r.cfg.Program == domain.ProgramMinter {
		if ev.ComplementaryValue != nil {
			acc.Collateral = acc.Collateral.Add(*ev.ComplementaryValue)
		}
		r.refreshBridged(acc, ev.CType, ev.CreatedAtBlock)
	}

	// Compounding leaves small negative residuals.
	if acc.Debt.IsNegative() && acc.Debt.GreaterThan(fixed.DustFloor) {
		acc.Debt = fixed.Zero
	}

	r.reweigh(acc)
	return []*domain.Account{acc}, nil
}

func (r *run) positionUpdate(ev *domain.RewardEvent) ([]*domain.Account, error) {
	pos := *ev.Position
	acc := r.store.GetOrCreate(ev.Address)
	r.earn(acc)
	touched := []*domain.Account{acc}

	// A snapshot under a new owner is an ERC721 transfer.
	if owner, ok := r.store.Owner(pos.TokenID); ok && owner != ev.Address {
		prev, _ := r.store.Get(owner)
		r.earn(prev)
		r.store.DetachPosition(owner, pos.TokenID)
		r.reweigh(prev)
		touched = append(touched, prev)
		r.logger.Debug("position transferred",
			"token_id", pos.TokenID,
			"from", owner,
			"to", ev.Address,
			"timestamp", ev.Timestamp,
		)
	}

	if i := acc.PositionIndex(pos.TokenID); i >= 0 {
		current := acc.LpPositions[i]
		if current.LowerTick != pos.LowerTick || current.UpperTick != pos.UpperTick {
			return nil, eventError(ErrTickImmutable, ev)
		}
		acc.LpPositions[i].Liquidity = pos.Liquidity
	} else if err := r.store.AttachPosition(ev.Address, pos); err != nil {
		return nil, eventError(err, ev)
	}

	r.reweigh(acc)
	return touched, nil
}

func (r *run) poolSwap(ev *domain.RewardEvent) ([]*domain.Account, error) {
	all := r.earnAll()
	r.state.SqrtPrice = *ev.Value

	// LP weight does not depend on price; the price is kept as state only.
	for _, acc := range all {
		acc.StakingWeight = weight.ForLPPositions(acc.LpPositions)
	}
	return all, nil
}

func (r *run) accumulatedRate(ev *domain.RewardEvent) ([]*domain.Account, error) {
	multiplier := *ev.Value
	r.state.Rates[ev.CType] = r.state.Rates[ev.CType].Add(multiplier)

	all := r.earnAll()
	factor := fixed.One.Add(multiplier)
	for _, acc := range all {
		acc.Debt = fixed.Mul(acc.Debt, factor)
		r.refreshBridged(acc, ev.CType, ev.CreatedAtBlock)
		r.reweigh(acc)
	}
	return all, nil
}

func (r *run) checkpoint(sequence int) Checkpoint {
	return Checkpoint{
		Sequence:           sequence,
		Timestamp:          r.state.Timestamp,
		RewardPerWeight:    r.state.RewardPerWeight,
		TotalStakingWeight: r.state.TotalStakingWeight,
		TotalEarned:        r.store.TotalEarned(),
		Accounts:           r.store.Len(),
	}
}

// errorKind classifies replay errors for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvariantViolation):
		return "invariant"
	case errors.Is(err, ErrTickImmutable), errors.Is(err, ErrUnknownEventType),
		errors.Is(err, ErrUnknownCollateralType), errors.Is(err, ErrEventOutOfOrder):
		return "validation"
	case errors.Is(err, ErrImpossibleFinalTimestamp):
		return "final_timestamp"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
