// Package initial builds the account store a replay starts from.
package initial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/accounts"
	"reward-distributor/internal/domain"
	"reward-distributor/internal/events"
	"reward-distributor/internal/fixed"
	"reward-distributor/internal/weight"
)

// ErrInconsistentInitialState is returned when the built store fails validation.
var ErrInconsistentInitialState = errors.New("inconsistent initial state")

// SafeDebt is the raw debt of one safe handler at a block.
type SafeDebt struct {
	Handler    string
	CType      string
	Debt       decimal.Decimal // raw, before the accumulated rate
	Collateral decimal.Decimal
}

// SnapshotSource loads point-in-time participant state.
type SnapshotSource interface {
	// LpPositions returns pool positions at block grouped by owner address.
	LpPositions(ctx context.Context, block uint64) (map[string][]domain.LpPosition, error)

	// SafeDebts returns safes with outstanding debt of a collateral type at block.
	SafeDebts(ctx context.Context, block uint64, cType string) ([]SafeDebt, error)
}

// RateSource returns the accumulated rate of a collateral type at a block.
type RateSource interface {
	AccumulatedRate(ctx context.Context, block uint64, cType string) (decimal.Decimal, error)
}

// BridgeSource returns the bridged amount of a collateral type for an address at a block.
type BridgeSource interface {
	BridgedAt(address, cType string, block uint64) decimal.Decimal
}

// Options configures a Builder.
type Options struct {
	Snapshots SnapshotSource
	Rates     RateSource
	Bridge    BridgeSource     // optional
	Exclusion events.Exclusion // optional
	Logger    *slog.Logger
}

// Builder constructs validated initial stores.
type Builder struct {
	snapshots SnapshotSource
	rates     RateSource
	bridge    BridgeSource
	exclusion events.Exclusion
	logger    *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		snapshots: opts.Snapshots,
		rates:     opts.Rates,
		bridge:    opts.Bridge,
		exclusion: opts.Exclusion,
		logger:    logger,
	}
}

// State is the output of Build.
type State struct {
	Store *accounts.Store
	Rates domain.Rates // accumulated rates at the start block
}

// Build loads the snapshot at cfg.StartBlock and returns the initial store.
// owners maps safe handlers to reward-eligible addresses.
func (b *Builder) Build(ctx context.Context, cfg domain.ProgramConfig, owners map[string]string) (*State, error) {
	rates, err := b.loadRates(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := accounts.New()
	switch cfg.Program {
	case domain.ProgramLP:
		err = b.loadPositions(ctx, cfg, store)
	case domain.ProgramMinter:
		err = b.loadDebts(ctx, cfg, owners, rates, store)
	default:
		err = fmt.Errorf("unknown program %q", cfg.Program)
	}
	if err != nil {
		return nil, err
	}

	excluded := b.applyExclusion(store)

	// Without bridge data the debt weight falls back to the debt itself.
	withBridge := cfg.WithBridge && b.bridge != nil
	for _, acc := range store.All() {
		acc.StakingWeight = weight.ForAccount(acc, cfg.Program, withBridge)
	}

	if err := Validate(store); err != nil {
		return nil, err
	}

	b.logger.Info("loaded initial state",
		"program", string(cfg.Program),
		"block", cfg.StartBlock,
		"accounts", store.Len(),
		"excluded", excluded,
		"total_staking_weight", store.TotalWeight().String(),
	)
	return &State{Store: store, Rates: rates}, nil
}

func (b *Builder) loadRates(ctx context.Context, cfg domain.ProgramConfig) (domain.Rates, error) {
	rates := make(domain.Rates, len(cfg.CTypes))
	for _, cType := range cfg.CTypes {
		rate, err := b.rates.AccumulatedRate(ctx, cfg.StartBlock, cType)
		if err != nil {
			return nil, fmt.Errorf("accumulated rate %s at block %d: %w", cType, cfg.StartBlock, err)
		}
		rates[cType] = rate
	}
	return rates, nil
}

func (b *Builder) loadPositions(ctx context.Context, cfg domain.ProgramConfig, store *accounts.Store) error {
	byOwner, err := b.snapshots.LpPositions(ctx, cfg.StartBlock)
	if err != nil {
		return fmt.Errorf("lp positions at block %d: %w", cfg.StartBlock, err)
	}

	owners := make([]string, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		store.GetOrCreate(owner)
		for _, pos := range byOwner[owner] {
			if err := store.AttachPosition(owner, pos); err != nil {
				return fmt.Errorf("%w: %v", ErrInconsistentInitialState, err)
			}
		}
	}
	b.logger.Debug("loaded lp positions", "owners", len(owners))
	return nil
}

func (b *Builder) loadDebts(
	ctx context.Context,
	cfg domain.ProgramConfig,
	owners map[string]string,
	rates domain.Rates,
	store *accounts.Store,
) error {
	for _, cType := range cfg.CTypes {
		debts, err := b.snapshots.SafeDebts(ctx, cfg.StartBlock, cType)
		if err != nil {
			return fmt.Errorf("safe debts %s at block %d: %w", cType, cfg.StartBlock, err)
		}

		for _, d := range debts {
			owner, ok := owners[d.Handler]
			if !ok {
				b.logger.Debug("safe handler has no owner", "handler", d.Handler)
				continue
			}
			rate, ok := rates[d.CType]
			if !ok {
				return fmt.Errorf("%w: no accumulated rate for collateral %s of handler %s",
					ErrInconsistentInitialState, d.CType, d.Handler)
			}
			acc := store.GetOrCreate(owner)
			acc.Debt = acc.Debt.Add(fixed.Mul(d.Debt, rate))
			acc.Collateral = acc.Collateral.Add(d.Collateral)
		}
		b.logger.Debug("loaded safe debts", "collateral", cType, "safes", len(debts))
	}

	if cfg.WithBridge && b.bridge != nil {
		for _, acc := range store.All() {
			total := fixed.Zero
			for _, cType := range cfg.CTypes {
				total = total.Add(b.bridge.BridgedAt(acc.Address, cType, cfg.StartBlock))
			}
			acc.TotalBridgedTokens = total
		}
	}
	return nil
}

func (b *Builder) applyExclusion(store *accounts.Store) int {
	if b.exclusion == nil {
		return 0
	}
	n := 0
	for _, acc := range store.All() {
		if b.exclusion.Contains(strings.ToLower(acc.Address)) {
			store.Delete(acc.Address)
			n++
		}
	}
	return n
}

// Validate checks that every account is fully initialised.
func Validate(store *accounts.Store) error {
	for _, acc := range store.All() {
		switch {
		case acc.Address == "":
			return fmt.Errorf("%w: account without address", ErrInconsistentInitialState)
		case acc.LpPositions == nil:
			return fmt.Errorf("%w: account %s has no position list", ErrInconsistentInitialState, acc.Address)
		case acc.Debt.IsNegative():
			return fmt.Errorf("%w: account %s has negative debt %s", ErrInconsistentInitialState, acc.Address, acc.Debt)
		case acc.StakingWeight.IsNegative():
			return fmt.Errorf("%w: account %s has negative weight %s", ErrInconsistentInitialState, acc.Address, acc.StakingWeight)
		case !acc.Earned.IsZero() || !acc.RewardPerWeightStored.IsZero():
			return fmt.Errorf("%w: account %s already credited", ErrInconsistentInitialState, acc.Address)
		}
	}
	return nil
}
