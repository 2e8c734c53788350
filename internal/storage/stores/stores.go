// Package stores opens the storage backends used by the commands.
package stores

import (
	"context"
	"fmt"
	"log/slog"

	"reward-distributor/internal/storage"
	chstore "reward-distributor/internal/storage/clickhouse"
	"reward-distributor/internal/storage/memory"
	"reward-distributor/internal/storage/migrations"
	pgstore "reward-distributor/internal/storage/postgres"
)

// Set holds every store.
type Set struct {
	Runs            storage.RunStore
	Payouts         storage.PayoutStore
	Checkpoints     storage.CheckpointStore
	Archives        storage.StreamArchiveStore
	BridgeTransfers storage.BridgeTransferStore
	Progress        storage.SyncProgressStore
}

// Options selects backends. An empty PostgresDSN or ClickhouseDSN keeps the
// corresponding stores in memory.
type Options struct {
	PostgresDSN   string
	ClickhouseDSN string
	UseMemory     bool // ignore both DSNs
	Migrate       bool // apply embedded migrations on open
	Logger        *slog.Logger
}

// Memory returns a Set backed entirely by memory.
func Memory() *Set {
	return &Set{
		Runs:            memory.NewRunStore(),
		Payouts:         memory.NewPayoutStore(),
		Checkpoints:     memory.NewCheckpointStore(),
		Archives:        memory.NewStreamArchiveStore(),
		BridgeTransfers: memory.NewBridgeTransferStore(),
		Progress:        memory.NewSyncProgressStore(),
	}
}

// Open connects the configured backends. The returned cleanup closes them.
func Open(ctx context.Context, opts Options) (*Set, func(), error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	set := Memory()
	if opts.UseMemory {
		logger.Info("using in-memory storage")
		return set, func() {}, nil
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if opts.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if opts.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
				cleanup()
				return nil, nil, err
			}
		}
		set.Runs = pgstore.NewRunStore(pool)
		set.Payouts = pgstore.NewPayoutStore(pool)
		set.Archives = pgstore.NewStreamArchiveStore(pool)
		set.BridgeTransfers = pgstore.NewBridgeTransferStore(pool)
		set.Progress = pgstore.NewSyncProgressStore(pool)
	}

	if opts.ClickhouseDSN != "" {
		var (
			conn *chstore.Conn
			err  error
		)
		if opts.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, opts.ClickhouseDSN, logger)
		} else {
			conn, err = chstore.NewConn(ctx, opts.ClickhouseDSN)
		}
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		set.Checkpoints = chstore.NewCheckpointStore(conn)
	}

	return set, cleanup, nil
}
