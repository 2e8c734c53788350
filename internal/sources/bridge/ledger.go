// Package bridge tracks collateral bridged to the rollup per address.
package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
)

type ledgerKey struct {
	address string
	cType   string
}

// point is the cumulative bridged amount as of block.
type point struct {
	block      uint64
	cumulative decimal.Decimal
}

// Ledger answers cumulative bridged amounts per (address, collateral type) as
// of a block. It is immutable once built and safe for concurrent reads.
type Ledger struct {
	series map[ledgerKey][]point
	count  int
}

// NewLedger builds prefix sums over transfers. Addresses match
// case-insensitively.
func NewLedger(transfers []*domain.BridgeTransfer) *Ledger {
	grouped := make(map[ledgerKey][]*domain.BridgeTransfer)
	for _, t := range transfers {
		k := ledgerKey{address: strings.ToLower(t.Address), cType: t.CType}
		grouped[k] = append(grouped[k], t)
	}

	l := &Ledger{series: make(map[ledgerKey][]point, len(grouped)), count: len(transfers)}
	for k, ts := range grouped {
		sort.SliceStable(ts, func(i, j int) bool { return ts[i].Block < ts[j].Block })

		points := make([]point, 0, len(ts))
		sum := decimal.Zero
		for _, t := range ts {
			sum = sum.Add(t.Amount)
			if n := len(points); n > 0 && points[n-1].block == t.Block {
				points[n-1].cumulative = sum
				continue
			}
			points = append(points, point{block: t.Block, cumulative: sum})
		}
		l.series[k] = points
	}
	return l
}

// BridgedAt returns the total bridged by address for cType in blocks <= block.
func (l *Ledger) BridgedAt(address, cType string, block uint64) decimal.Decimal {
	if l == nil {
		return decimal.Zero
	}
	points := l.series[ledgerKey{address: strings.ToLower(address), cType: cType}]
	i := sort.Search(len(points), func(i int) bool { return points[i].block > block })
	if i == 0 {
		return decimal.Zero
	}
	return points[i-1].cumulative
}

// Len returns the number of transfers in the ledger.
func (l *Ledger) Len() int {
	if l == nil {
		return 0
	}
	return l.count
}

// TransferReader loads stored bridge transfers.
type TransferReader interface {
	GetUpToBlock(ctx context.Context, maxBlock uint64) ([]*domain.BridgeTransfer, error)
}

// LoadLedger builds a ledger from stored transfers up to maxBlock.
func LoadLedger(ctx context.Context, store TransferReader, maxBlock uint64) (*Ledger, error) {
	transfers, err := store.GetUpToBlock(ctx, maxBlock)
	if err != nil {
		return nil, fmt.Errorf("load bridge transfers: %w", err)
	}
	return NewLedger(transfers), nil
}
