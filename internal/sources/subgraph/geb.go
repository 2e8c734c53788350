package subgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/events"
	"reward-distributor/internal/initial"
	"reward-distributor/internal/sources"
)

// GEB queries the stablecoin protocol subgraph.
type GEB struct {
	client *Client
}

// NewGEB creates a GEB adapter.
func NewGEB(client *Client) *GEB {
	return &GEB{client: client}
}

var _ initial.RateSource = (*GEB)(nil)

type collateralRef struct {
	ID string `json:"id"`
}

type safeModificationRow struct {
	ID              string        `json:"id"`
	DeltaDebt       string        `json:"deltaDebt"`
	DeltaCollateral string        `json:"deltaCollateral"`
	SafeHandler     string        `json:"safeHandler"`
	CreatedAt       string        `json:"createdAt"`
	CreatedAtBlock  string        `json:"createdAtBlock"`
	CollateralType  collateralRef `json:"collateralType"`
}

const safeModificationTemplate = `{
  %s(
    where: {createdAtBlock_gte: %d, createdAtBlock_lte: %d, deltaDebt_not: 0%s},
    first: 1000,
    skip: [[skip]]
  ) {
    id
    deltaDebt
    deltaCollateral
    safeHandler
    createdAt
    createdAtBlock
    collateralType { id }
  }
}`

// SafeModifications returns debt-changing safe modifications and
// confiscations in [startBlock, endBlock]. An empty cType matches every
// collateral type.
func (g *GEB) SafeModifications(ctx context.Context, startBlock, endBlock uint64, cType string) ([]events.SafeModification, error) {
	var out []events.SafeModification
	for _, entity := range []string{"modifySAFECollateralizations", "confiscateSAFECollateralAndDebts"} {
		query := fmt.Sprintf(safeModificationTemplate, entity, startBlock, endBlock, collateralFilter(cType))
		rows, err := queryPaginated[safeModificationRow](ctx, g.client, entity, query, entity)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			m, err := r.toModification()
			if err != nil {
				return nil, sources.Wrap("subgraph", entity, err)
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func (r safeModificationRow) toModification() (events.SafeModification, error) {
	debt, err := parseDecimal("deltaDebt", r.DeltaDebt)
	if err != nil {
		return events.SafeModification{}, err
	}
	collateral, err := parseDecimal("deltaCollateral", r.DeltaCollateral)
	if err != nil {
		return events.SafeModification{}, err
	}
	ts, err := parseInt("createdAt", r.CreatedAt)
	if err != nil {
		return events.SafeModification{}, err
	}
	block, err := parseUint("createdAtBlock", r.CreatedAtBlock)
	if err != nil {
		return events.SafeModification{}, err
	}
	return events.SafeModification{
		ID:              r.ID,
		Handler:         r.SafeHandler,
		CType:           r.CollateralType.ID,
		DeltaDebt:       debt,
		DeltaCollateral: collateral,
		Timestamp:       ts,
		Block:           block,
	}, nil
}

type safeTransferRow struct {
	ID              string        `json:"id"`
	DeltaDebt       string        `json:"deltaDebt"`
	DeltaCollateral string        `json:"deltaCollateral"`
	SrcHandler      string        `json:"srcHandler"`
	DstHandler      string        `json:"dstHandler"`
	CreatedAt       string        `json:"createdAt"`
	CreatedAtBlock  string        `json:"createdAtBlock"`
	CollateralType  collateralRef `json:"collateralType"`
}

// SafeTransfers returns debt transfers between safes in [startBlock, endBlock].
func (g *GEB) SafeTransfers(ctx context.Context, startBlock, endBlock uint64, cType string) ([]events.SafeTransfer, error) {
	const entity = "transferSAFECollateralAndDebts"
	query := fmt.Sprintf(`{
  transferSAFECollateralAndDebts(
    where: {createdAtBlock_gte: %d, createdAtBlock_lte: %d, deltaDebt_not: 0%s},
    first: 1000,
    skip: [[skip]]
  ) {
    id
    deltaDebt
    deltaCollateral
    srcHandler
    dstHandler
    createdAt
    createdAtBlock
    collateralType { id }
  }
}`, startBlock, endBlock, collateralFilter(cType))

	rows, err := queryPaginated[safeTransferRow](ctx, g.client, entity, query, entity)
	if err != nil {
		return nil, err
	}

	out := make([]events.SafeTransfer, 0, len(rows))
	for _, r := range rows {
		m, err := safeModificationRow{
			ID:              r.ID,
			DeltaDebt:       r.DeltaDebt,
			DeltaCollateral: r.DeltaCollateral,
			CreatedAt:       r.CreatedAt,
			CreatedAtBlock:  r.CreatedAtBlock,
			CollateralType:  r.CollateralType,
		}.toModification()
		if err != nil {
			return nil, sources.Wrap("subgraph", entity, err)
		}
		out = append(out, events.SafeTransfer{
			ID:              m.ID,
			SrcHandler:      r.SrcHandler,
			DstHandler:      r.DstHandler,
			CType:           m.CType,
			DeltaDebt:       m.DeltaDebt,
			DeltaCollateral: m.DeltaCollateral,
			Timestamp:       m.Timestamp,
			Block:           m.Block,
		})
	}
	return out, nil
}

// DebtModifications returns modifications, confiscations and both legs of
// every transfer.
func (g *GEB) DebtModifications(ctx context.Context, startBlock, endBlock uint64, cType string) ([]events.SafeModification, error) {
	mods, err := g.SafeModifications(ctx, startBlock, endBlock, cType)
	if err != nil {
		return nil, err
	}
	transfers, err := g.SafeTransfers(ctx, startBlock, endBlock, cType)
	if err != nil {
		return nil, err
	}
	for _, t := range transfers {
		legs := events.DecomposeTransfer(t)
		mods = append(mods, legs[0], legs[1])
	}
	return mods, nil
}

type rateUpdateRow struct {
	ID             string        `json:"id"`
	RateMultiplier string        `json:"rateMultiplier"`
	CreatedAt      string        `json:"createdAt"`
	CreatedAtBlock string        `json:"createdAtBlock"`
	CollateralType collateralRef `json:"collateralType"`
}

// AccumulatedRateUpdates returns UPDATE_ACCUMULATED_RATE events in
// [startBlock, endBlock].
func (g *GEB) AccumulatedRateUpdates(ctx context.Context, startBlock, endBlock uint64, cType string) ([]*domain.RewardEvent, error) {
	const entity = "updateAccumulatedRates"
	query := fmt.Sprintf(`{
  updateAccumulatedRates(
    orderBy: accumulatedRate,
    orderDirection: desc,
    where: {createdAtBlock_gte: %d, createdAtBlock_lte: %d%s},
    first: 1000,
    skip: [[skip]]
  ) {
    id
    rateMultiplier
    createdAt
    createdAtBlock
    collateralType { id }
  }
}`, startBlock, endBlock, collateralFilter(cType))

	rows, err := queryPaginated[rateUpdateRow](ctx, g.client, entity, query, entity)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.RewardEvent, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEvent()
		if err != nil {
			return nil, sources.Wrap("subgraph", entity, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r rateUpdateRow) toEvent() (*domain.RewardEvent, error) {
	multiplier, err := parseDecimal("rateMultiplier", r.RateMultiplier)
	if err != nil {
		return nil, err
	}
	ts, err := parseInt("createdAt", r.CreatedAt)
	if err != nil {
		return nil, err
	}
	block, err := parseUint("createdAtBlock", r.CreatedAtBlock)
	if err != nil {
		return nil, err
	}
	logIndex, err := events.LogIndexFromID(r.ID)
	if err != nil {
		return nil, err
	}
	return &domain.RewardEvent{
		Type:           domain.EventUpdateAccumulatedRate,
		Timestamp:      ts,
		CreatedAtBlock: block,
		LogIndex:       &logIndex,
		CType:          r.CollateralType.ID,
		Value:          &multiplier,
		ID:             r.ID,
	}, nil
}

type safeRow struct {
	Debt           string        `json:"debt"`
	Collateral     string        `json:"collateral"`
	SafeHandler    string        `json:"safeHandler"`
	CollateralType collateralRef `json:"collateralType"`
}

// SafeDebts returns safes with outstanding debt at block.
func (g *GEB) SafeDebts(ctx context.Context, block uint64, cType string) ([]initial.SafeDebt, error) {
	const entity = "safes"
	query := fmt.Sprintf(`{
  safes(
    where: {debt_gt: 0%s},
    first: 1000,
    skip: [[skip]],
    block: {number: %d}
  ) {
    debt
    collateral
    safeHandler
    collateralType { id }
  }
}`, collateralFilter(cType), block)

	rows, err := queryPaginated[safeRow](ctx, g.client, entity, query, entity)
	if err != nil {
		return nil, err
	}

	out := make([]initial.SafeDebt, 0, len(rows))
	for _, r := range rows {
		debt, err := parseDecimal("debt", r.Debt)
		if err != nil {
			return nil, sources.Wrap("subgraph", entity, err)
		}
		collateral := decimal.Zero
		if r.Collateral != "" {
			if collateral, err = parseDecimal("collateral", r.Collateral); err != nil {
				return nil, sources.Wrap("subgraph", entity, err)
			}
		}
		out = append(out, initial.SafeDebt{
			Handler:    r.SafeHandler,
			CType:      r.CollateralType.ID,
			Debt:       debt,
			Collateral: collateral,
		})
	}
	return out, nil
}

// AccumulatedRate returns the accumulated rate of cType at block.
func (g *GEB) AccumulatedRate(ctx context.Context, block uint64, cType string) (decimal.Decimal, error) {
	const op = "collateralType"
	query := fmt.Sprintf(`{
  collateralType(id: %q, block: {number: %d}) {
    accumulatedRate
  }
}`, cType, block)

	var resp struct {
		CollateralType *struct {
			AccumulatedRate string `json:"accumulatedRate"`
		} `json:"collateralType"`
	}
	if err := g.client.Query(ctx, op, query, &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.CollateralType == nil {
		return decimal.Zero, sources.Wrap("subgraph", op, fmt.Errorf("collateral type %q not found at block %d", cType, block))
	}
	rate, err := parseDecimal("accumulatedRate", resp.CollateralType.AccumulatedRate)
	if err != nil {
		return decimal.Zero, sources.Wrap("subgraph", op, err)
	}
	return rate, nil
}

// SafeOwners returns the safe handler to owner address mapping at block.
func (g *GEB) SafeOwners(ctx context.Context, block uint64) (map[string]string, error) {
	const entity = "safeHandlerOwners"
	query := fmt.Sprintf(`{
  safeHandlerOwners(first: 1000, skip: [[skip]], block: {number: %d}) {
    id
    owner { address }
  }
}`, block)

	type row struct {
		ID    string `json:"id"`
		Owner struct {
			Address string `json:"address"`
		} `json:"owner"`
	}
	rows, err := queryPaginated[row](ctx, g.client, entity, query, entity)
	if err != nil {
		return nil, err
	}

	owners := make(map[string]string, len(rows))
	for _, r := range rows {
		owners[r.ID] = r.Owner.Address
	}
	return owners, nil
}

// PricePoint is one redemption price observation.
type PricePoint struct {
	Timestamp int64
	Value     decimal.Decimal
}

// PriceSeries is a time-ordered redemption price series.
type PriceSeries struct {
	points []PricePoint
}

// NewPriceSeries sorts points by timestamp.
func NewPriceSeries(points []PricePoint) *PriceSeries {
	sorted := make([]PricePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	return &PriceSeries{points: sorted}
}

// PriceAt returns the latest price at or before timestamp.
func (s *PriceSeries) PriceAt(timestamp int64) (decimal.Decimal, bool) {
	i := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Timestamp > timestamp
	})
	if i == 0 {
		return decimal.Zero, false
	}
	return s.points[i-1].Value, true
}

// Len returns the number of points.
func (s *PriceSeries) Len() int {
	return len(s.points)
}

type priceRow struct {
	Timestamp string `json:"timestamp"`
	Value     string `json:"value"`
}

// RedemptionPrices loads the redemption price series covering [from, to]:
// every update inside the window plus the last update before it.
func (g *GEB) RedemptionPrices(ctx context.Context, from, to int64) (*PriceSeries, error) {
	const entity = "redemptionPrices"

	var latest struct {
		RedemptionPrices []priceRow `json:"redemptionPrices"`
	}
	err := g.client.Query(ctx, entity, fmt.Sprintf(`{
  redemptionPrices(orderBy: timestamp, orderDirection: desc, first: 1, where: {timestamp_lte: %d}) {
    timestamp
    value
  }
}`, from), &latest)
	if err != nil {
		return nil, err
	}

	rows, err := queryPaginated[priceRow](ctx, g.client, entity, fmt.Sprintf(`{
  redemptionPrices(
    orderBy: timestamp,
    orderDirection: asc,
    where: {timestamp_gt: %d, timestamp_lte: %d},
    first: 1000,
    skip: [[skip]]
  ) {
    timestamp
    value
  }
}`, from, to), entity)
	if err != nil {
		return nil, err
	}

	all := append(latest.RedemptionPrices, rows...)
	points := make([]PricePoint, 0, len(all))
	for _, r := range all {
		ts, err := parseInt("timestamp", r.Timestamp)
		if err != nil {
			return nil, sources.Wrap("subgraph", entity, err)
		}
		v, err := parseDecimal("value", r.Value)
		if err != nil {
			return nil, sources.Wrap("subgraph", entity, err)
		}
		points = append(points, PricePoint{Timestamp: ts, Value: v})
	}
	return NewPriceSeries(points), nil
}
