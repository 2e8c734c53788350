// Package main serves campaign runs, payouts and verification over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"reward-distributor/internal/api"
	"reward-distributor/internal/app"
	"reward-distributor/internal/config"
	"reward-distributor/internal/logger"
	"reward-distributor/internal/replay"
	"reward-distributor/internal/sources/subgraph"
	"reward-distributor/internal/storage/stores"
	"reward-distributor/internal/verification"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (for local testing)")
	migrate := flag.Bool("migrate", false, "Apply database migrations on startup")
	flag.Parse()

	log := logger.New(*verbose)

	cfg, err := config.LoadEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	set, closeStores, err := stores.Open(ctx, stores.Options{
		PostgresDSN:   cfg.Storage.PostgresDSN,
		ClickhouseDSN: cfg.Storage.ClickhouseDSN,
		UseMemory:     *useMemory,
		Migrate:       *migrate,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	defer closeStores()

	// Verification replays against the full stored ledger; transfers past a
	// run's end block never affect its streams.
	ledger, err := app.LoadBridge(ctx, cfg, set.BridgeTransfers, ^uint64(0))
	if err != nil {
		return err
	}
	replayOpts := replay.Options{
		Archives: set.Archives,
		Bridge:   ledger,
		Logger:   log,
	}
	if cfg.Sources.LPGEBSubgraphURL != "" {
		replayOpts.Prices = subgraph.NewGEB(app.SubgraphClient(cfg, cfg.Sources.LPGEBSubgraphURL, log))
	}

	server := api.NewServer(*addr, api.Options{
		Runs:        set.Runs,
		Payouts:     set.Payouts,
		Checkpoints: set.Checkpoints,
		Verifier: verification.NewReplayVerifier(verification.ReplayVerifierOptions{
			Payouts:  set.Payouts,
			Replayer: replay.NewRunner(replayOpts),
		}),
		Logger: log,
	})
	if err := server.Run(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
