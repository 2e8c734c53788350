// Package chain resolves block numbers to timestamps over JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"reward-distributor/internal/observability"
	"reward-distributor/internal/sources"
)

// ErrHeaderMissing is returned when the node returns no header for a block.
var ErrHeaderMissing = errors.New("block header missing")

// HeaderReader is the subset of the Ethereum RPC used here.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// TimestampSource resolves a block to its Unix timestamp.
type TimestampSource interface {
	BlockTimestamp(ctx context.Context, block uint64) (int64, error)
}

// RPCTimestamps reads block timestamps from an Ethereum node.
type RPCTimestamps struct {
	reader HeaderReader
}

var _ TimestampSource = (*RPCTimestamps)(nil)

// NewRPCTimestamps wraps reader.
func NewRPCTimestamps(reader HeaderReader) *RPCTimestamps {
	return &RPCTimestamps{reader: reader}
}

// Dial connects to the node at endpoint.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, sources.Wrap("rpc", "dial", err)
	}
	return client, nil
}

// BlockTimestamp returns the timestamp of block.
func (r *RPCTimestamps) BlockTimestamp(ctx context.Context, block uint64) (int64, error) {
	start := time.Now()
	header, err := r.reader.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	observability.RecordRPCLatency("eth_getBlockByNumber", time.Since(start).Seconds())
	if err != nil {
		return 0, sources.Wrap("rpc", "eth_getBlockByNumber", fmt.Errorf("block %d: %w", block, err))
	}
	if header == nil {
		return 0, sources.Wrap("rpc", "eth_getBlockByNumber", fmt.Errorf("block %d: %w", block, ErrHeaderMissing))
	}
	return int64(header.Time), nil
}

// CachedTimestamps serves timestamps from cache and falls back to source.
// Block timestamps are immutable once final, so entries never expire.
type CachedTimestamps struct {
	source TimestampSource
	cache  Cache
}

var _ TimestampSource = (*CachedTimestamps)(nil)

// NewCachedTimestamps wraps source with cache.
func NewCachedTimestamps(source TimestampSource, cache Cache) *CachedTimestamps {
	return &CachedTimestamps{source: source, cache: cache}
}

// BlockTimestamp returns the cached timestamp of block, fetching it on a miss.
// Cache failures degrade to a direct fetch.
func (c *CachedTimestamps) BlockTimestamp(ctx context.Context, block uint64) (int64, error) {
	ts, ok, err := c.cache.Get(ctx, block)
	if err == nil && ok {
		observability.RecordCacheLookup(c.cache.Name(), true)
		return ts, nil
	}
	observability.RecordCacheLookup(c.cache.Name(), false)

	ts, err = c.source.BlockTimestamp(ctx, block)
	if err != nil {
		return 0, err
	}
	_ = c.cache.Set(ctx, block, ts)
	return ts, nil
}
