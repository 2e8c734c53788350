package subgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/sources"
)

// Uniswap queries the Uniswap v3 subgraph for one pool.
type Uniswap struct {
	client *Client
	pool   string
}

// NewUniswap creates an adapter for pool. The Graph stores addresses in
// lower case.
func NewUniswap(client *Client, pool string) *Uniswap {
	return &Uniswap{client: client, pool: strings.ToLower(pool)}
}

type tickRef struct {
	TickIdx string `json:"tickIdx"`
}

type positionRow struct {
	ID        string  `json:"id"`
	Owner     string  `json:"owner"`
	Liquidity string  `json:"liquidity"`
	TickLower tickRef `json:"tickLower"`
	TickUpper tickRef `json:"tickUpper"`
}

func (r positionRow) toPosition() (domain.LpPosition, error) {
	id, err := parseUint("position id", r.ID)
	if err != nil {
		return domain.LpPosition{}, err
	}
	lower, err := parseInt("tickLower", r.TickLower.TickIdx)
	if err != nil {
		return domain.LpPosition{}, err
	}
	upper, err := parseInt("tickUpper", r.TickUpper.TickIdx)
	if err != nil {
		return domain.LpPosition{}, err
	}
	liquidity, err := parseDecimal("liquidity", r.Liquidity)
	if err != nil {
		return domain.LpPosition{}, err
	}
	return domain.LpPosition{
		TokenID:   id,
		LowerTick: lower,
		UpperTick: upper,
		Liquidity: liquidity,
	}, nil
}

// LpPositions returns the pool positions at block grouped by owner.
func (u *Uniswap) LpPositions(ctx context.Context, block uint64) (map[string][]domain.LpPosition, error) {
	const entity = "positions"
	query := fmt.Sprintf(`{
  positions(
    block: {number: %d},
    where: {pool: %q},
    first: 1000,
    skip: [[skip]]
  ) {
    id
    owner
    liquidity
    tickLower { tickIdx }
    tickUpper { tickIdx }
  }
}`, block, u.pool)

	rows, err := queryPaginated[positionRow](ctx, u.client, entity, query, entity)
	if err != nil {
		return nil, err
	}

	byOwner := make(map[string][]domain.LpPosition)
	for _, r := range rows {
		pos, err := r.toPosition()
		if err != nil {
			return nil, sources.Wrap("subgraph", entity, err)
		}
		byOwner[r.Owner] = append(byOwner[r.Owner], pos)
	}
	return byOwner, nil
}

type positionSnapshotRow struct {
	Owner       string `json:"owner"`
	Timestamp   string `json:"timestamp"`
	Liquidity   string `json:"liquidity"`
	BlockNumber string `json:"blockNumber"`
	Position    struct {
		ID        string  `json:"id"`
		TickLower tickRef `json:"tickLower"`
		TickUpper tickRef `json:"tickUpper"`
	} `json:"position"`
}

// PositionUpdates returns POOL_POSITION_UPDATE events for snapshots taken in
// [startBlock, endBlock]. Snapshots carry no log index and get
// domain.PositionLogIndex.
func (u *Uniswap) PositionUpdates(ctx context.Context, startBlock, endBlock uint64) ([]*domain.RewardEvent, error) {
	const entity = "positionSnapshots"
	query := fmt.Sprintf(`{
  positionSnapshots(
    where: {blockNumber_gte: %d, blockNumber_lte: %d, pool: %q},
    first: 1000,
    skip: [[skip]]
  ) {
    owner
    timestamp
    liquidity
    blockNumber
    position {
      id
      tickLower { tickIdx }
      tickUpper { tickIdx }
    }
  }
}`, startBlock, endBlock, u.pool)

	rows, err := queryPaginated[positionSnapshotRow](ctx, u.client, entity, query, entity)
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

func (r positionSnapshotRow) toEvent() (*domain.RewardEvent, error) {
	pos, err := positionRow{
		ID:        r.Position.ID,
		Liquidity: r.Liquidity,
		TickLower: r.Position.TickLower,
		TickUpper: r.Position.TickUpper,
	}.toPosition()
	if err != nil {
		return nil, err
	}
	ts, err := parseInt("timestamp", r.Timestamp)
	if err != nil {
		return nil, err
	}
	block, err := parseUint("blockNumber", r.BlockNumber)
	if err != nil {
		return nil, err
	}
	return &domain.RewardEvent{
		Type:           domain.EventPoolPositionUpdate,
		Timestamp:      ts,
		CreatedAtBlock: block,
		LogIndex:       domain.Int64Ptr(domain.PositionLogIndex),
		Address:        r.Owner,
		Position:       &pos,
		ID:             fmt.Sprintf("%s-%d", r.Position.ID, block),
	}, nil
}

type swapRow struct {
	ID           string `json:"id"`
	SqrtPriceX96 string `json:"sqrtPriceX96"`
	Timestamp    string `json:"timestamp"`
	LogIndex     string `json:"logIndex"`
	Transaction  struct {
		BlockNumber string `json:"blockNumber"`
	} `json:"transaction"`
}

// Swaps returns POOL_SWAP events with timestamps in [startTime, endTime].
func (u *Uniswap) Swaps(ctx context.Context, startTime, endTime int64) ([]*domain.RewardEvent, error) {
	const entity = "swaps"
	query := fmt.Sprintf(`{
  swaps(
    where: {pool: %q, timestamp_gte: %d, timestamp_lte: %d},
    first: 1000,
    skip: [[skip]]
  ) {
    id
    sqrtPriceX96
    timestamp
    logIndex
    transaction { blockNumber }
  }
}`, u.pool, startTime, endTime)

	rows, err := queryPaginated[swapRow](ctx, u.client, entity, query, entity)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.RewardEvent, 0, len(rows))
	for _, r := range rows {
		price, err := parseDecimal("sqrtPriceX96", r.SqrtPriceX96)
		if err != nil {
			return nil, sources.Wrap("subgraph", entity, err)
		}
		ts, err := parseInt("timestamp", r.Timestamp)
		if err != nil {
			return nil, sources.Wrap("subgraph", entity, err)
		}
		logIndex, err := parseInt("logIndex", r.LogIndex)
		if err != nil {
			return nil, sources.Wrap("subgraph", entity, err)
		}
		var block uint64
		if r.Transaction.BlockNumber != "" {
			if block, err = parseUint("blockNumber", r.Transaction.BlockNumber); err != nil {
				return nil, sources.Wrap("subgraph", entity, err)
			}
		}
		out = append(out, &domain.RewardEvent{
			Type:           domain.EventPoolSwap,
			Timestamp:      ts,
			CreatedAtBlock: block,
			LogIndex:       &logIndex,
			Value:          &price,
			ID:             r.ID,
		})
	}
	return out, nil
}

// SqrtPrice returns the pool sqrtPrice at block.
func (u *Uniswap) SqrtPrice(ctx context.Context, block uint64) (decimal.Decimal, error) {
	const op = "pool"
	query := fmt.Sprintf(`{
  pool(id: %q, block: {number: %d}) {
    sqrtPrice
  }
}`, u.pool, block)

	var resp struct {
		Pool *struct {
			SqrtPrice string `json:"sqrtPrice"`
		} `json:"pool"`
	}
	if err := u.client.Query(ctx, op, query, &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.Pool == nil {
		return decimal.Zero, sources.Wrap("subgraph", op, fmt.Errorf("pool %s not found at block %d", u.pool, block))
	}
	price, err := parseDecimal("sqrtPrice", resp.Pool.SqrtPrice)
	if err != nil {
		return decimal.Zero, sources.Wrap("subgraph", op, err)
	}
	return price, nil
}
