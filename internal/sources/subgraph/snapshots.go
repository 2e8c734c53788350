package subgraph

import (
	"context"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/initial"
)

// Snapshots serves point-in-time participant state from both subgraphs.
type Snapshots struct {
	GEB     *GEB
	Uniswap *Uniswap
}

var _ initial.SnapshotSource = (*Snapshots)(nil)

// LpPositions returns pool positions at block grouped by owner.
func (s *Snapshots) LpPositions(ctx context.Context, block uint64) (map[string][]domain.LpPosition, error) {
	return s.Uniswap.LpPositions(ctx, block)
}

// SafeDebts returns safes with outstanding debt at block.
func (s *Snapshots) SafeDebts(ctx context.Context, block uint64, cType string) ([]initial.SafeDebt, error) {
	return s.GEB.SafeDebts(ctx, block, cType)
}
