// Package main runs one distribution campaign: every configured program is
// replayed over its window and the payout table is written to the sinks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"reward-distributor/internal/app"
	"reward-distributor/internal/config"
	"reward-distributor/internal/domain"
	"reward-distributor/internal/logger"
	"reward-distributor/internal/observability"
	"reward-distributor/internal/orchestrator"
	"reward-distributor/internal/results"
	"reward-distributor/internal/storage/stores"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "campaign.yaml", "Campaign configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")
	useMemory := flag.Bool("use-memory", false, "Keep runs, archives and checkpoints in memory")
	migrate := flag.Bool("migrate", true, "Apply database migrations before running")
	concurrency := flag.Int("concurrency", 4, "Program runs replayed in parallel")
	flag.Parse()

	log := logger.New(*verbose)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	programs, err := cfg.Programs()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		go serveMetrics(log, *metricsAddr)
	}

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

	src, err := app.OpenSources(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer src.Close()

	excl, err := app.LoadExclusion(cfg)
	if err != nil {
		return err
	}

	sinks, err := app.Sinks(ctx, cfg, set.Payouts)
	if err != nil {
		return err
	}

	opts := orchestrator.Options{
		LP:              src.LP,
		Minter:          src.Minter,
		Exclusion:       excl,
		Runs:            set.Runs,
		Checkpoints:     set.Checkpoints,
		Archives:        set.Archives,
		Sinks:           sinks,
		CheckpointEvery: cfg.CheckpointEvery,
		Concurrency:     *concurrency,
		Logger:          log,
	}
	if maxBlock, ok := bridgedUntil(programs); ok {
		ledger, err := app.LoadBridge(ctx, cfg, set.BridgeTransfers, maxBlock)
		if err != nil {
			return err
		}
		log.Info("bridge ledger loaded", "transfers", ledger.Len(), "max_block", maxBlock)
		opts.Bridge = ledger
	}

	log.Info("starting campaign",
		"programs", len(programs),
		"excluded", excl.Len(),
		"start_block", cfg.StartBlock,
		"end_block", cfg.EndBlock,
	)
	result, err := orchestrator.New(opts).Run(ctx, programs)
	if err != nil {
		return err
	}

	for _, s := range result.Streams {
		log.Info("stream complete",
			"stream", s.Stream,
			"events", s.EventsApplied,
			"earned", s.TotalEarned.String(),
			"recipients", len(s.Payouts),
		)
	}
	for token, total := range results.Totals(result.Payouts) {
		log.Info("payout total", "token", token, "amount", total.String())
	}
	log.Info("campaign complete", "run_id", result.RunID)
	return nil
}

// bridgedUntil returns the last block of borrow programs that count bridged
// collateral.
func bridgedUntil(programs []domain.ProgramConfig) (uint64, bool) {
	var (
		maxBlock uint64
		found    bool
	)
	for _, p := range programs {
		if p.Program == domain.ProgramMinter && p.WithBridge {
			maxBlock = max(maxBlock, p.EndBlock)
			found = true
		}
	}
	return maxBlock, found
}

func serveMetrics(log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	log.Info("starting metrics server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server failed", "error", err)
	}
}
