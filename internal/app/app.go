// Package app wires configured data sources and sinks for the commands.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"reward-distributor/internal/config"
	"reward-distributor/internal/orchestrator"
	"reward-distributor/internal/payout"
	"reward-distributor/internal/sources/bridge"
	"reward-distributor/internal/sources/chain"
	"reward-distributor/internal/sources/exclusion"
	"reward-distributor/internal/sources/subgraph"
	"reward-distributor/internal/storage"
)

// Sources holds the data sources of both programs.
type Sources struct {
	LP     orchestrator.ProgramSources
	Minter orchestrator.ProgramSources

	closers []func()
}

// Close releases RPC connections and caches.
func (s *Sources) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// SubgraphClient creates a client for endpoint with the configured rate limit.
func SubgraphClient(cfg *config.Config, endpoint string, logger *slog.Logger) *subgraph.Client {
	opts := []subgraph.ClientOption{subgraph.WithLogger(logger)}
	if cfg.Sources.SubgraphRPS > 0 {
		opts = append(opts, subgraph.WithRateLimit(cfg.Sources.SubgraphRPS))
	}
	return subgraph.NewClient(endpoint, opts...)
}

// OpenSources connects the subgraphs and RPC endpoints of every program that
// has rewards configured.
func OpenSources(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Sources, error) {
	s := &Sources{}
	cache := newCache(cfg, s)

	// Both programs may share one chain.
	dialed := make(map[string]chain.TimestampSource)
	timestamps := func(url, prefix string) (chain.TimestampSource, error) {
		if ts, ok := dialed[url]; ok {
			return ts, nil
		}
		client, err := chain.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		ts := chain.NewCachedTimestamps(chain.NewRPCTimestamps(client), cache(prefix))
		dialed[url] = ts
		return ts, nil
	}

	if len(cfg.LP.Rewards) > 0 {
		geb := subgraph.NewGEB(SubgraphClient(cfg, cfg.Sources.LPGEBSubgraphURL, logger))
		pool := subgraph.NewUniswap(
			SubgraphClient(cfg, cfg.Sources.UniswapSubgraphURL, logger),
			cfg.Sources.UniswapPoolAddress,
		)
		ts, err := timestamps(cfg.Sources.LPRPCURL, "ts:lp:")
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("lp rpc: %w", err)
		}
		s.LP = orchestrator.ProgramSources{
			GEB:        geb,
			Pool:       pool,
			Snapshots:  &subgraph.Snapshots{GEB: geb, Uniswap: pool},
			Timestamps: ts,
		}
	}

	if len(cfg.Minter.Rewards) > 0 {
		geb := subgraph.NewGEB(SubgraphClient(cfg, cfg.Sources.MinterGEBSubgraphURL, logger))
		ts, err := timestamps(cfg.Sources.MinterRPCURL, "ts:minter:")
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("minter rpc: %w", err)
		}
		s.Minter = orchestrator.ProgramSources{
			GEB:        geb,
			Snapshots:  &subgraph.Snapshots{GEB: geb},
			Timestamps: ts,
		}
	}

	logger.Info("data sources ready",
		"lp", s.LP.GEB != nil,
		"minter", s.Minter.GEB != nil,
		"redis_cache", cfg.Sources.RedisAddr != "",
	)
	return s, nil
}

// newCache returns a constructor for per-chain timestamp caches: Redis when
// configured, memory otherwise.
func newCache(cfg *config.Config, s *Sources) func(prefix string) chain.Cache {
	return func(prefix string) chain.Cache {
		if cfg.Sources.RedisAddr == "" {
			return chain.NewMemoryCache()
		}
		c := chain.NewRedisCache(cfg.Sources.RedisAddr, cfg.Sources.RedisPassword, cfg.Sources.RedisDB, prefix)
		s.closers = append(s.closers, func() { _ = c.Close() })
		return c
	}
}

// LoadExclusion loads the configured exclusion list. No file yields an empty list.
func LoadExclusion(cfg *config.Config) (*exclusion.List, error) {
	return exclusion.LoadFile(cfg.Sources.ExclusionListFile)
}

// LoadBridge builds the bridge ledger up to maxBlock from the configured file,
// or from stored transfers when no file is set.
func LoadBridge(ctx context.Context, cfg *config.Config, transfers bridge.TransferReader, maxBlock uint64) (*bridge.Ledger, error) {
	if cfg.Sources.BridgeTransfersFile == "" {
		return bridge.LoadLedger(ctx, transfers, maxBlock)
	}
	records, err := bridge.LoadFile(cfg.Sources.BridgeTransfersFile)
	if err != nil {
		return nil, err
	}
	kept := records[:0]
	for _, t := range records {
		if t.Block <= maxBlock {
			kept = append(kept, t)
		}
	}
	return bridge.NewLedger(kept), nil
}

// Sinks returns the payout sinks: the output directory, the payout store and
// S3 when a bucket is configured.
func Sinks(ctx context.Context, cfg *config.Config, payouts storage.PayoutStore) ([]payout.Sink, error) {
	format, err := payout.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	sinks := []payout.Sink{payout.NewFileSink(cfg.Output.Dir, format)}
	if payouts != nil {
		sinks = append(sinks, payout.NewStoreSink(payouts))
	}
	if cfg.Output.S3Bucket != "" {
		client, err := payout.NewS3Client(ctx, cfg.Output.S3Region)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, payout.NewS3Sink(client, cfg.Output.S3Bucket, cfg.Output.S3Prefix, format))
	}
	return sinks, nil
}
