// Package main replays archived program runs offline, printing the recomputed
// payouts or comparing them against the stored table.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"reward-distributor/internal/app"
	"reward-distributor/internal/config"
	"reward-distributor/internal/domain"
	"reward-distributor/internal/logger"
	"reward-distributor/internal/payout"
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
	runID := flag.String("run-id", "", "Run to replay (default: latest run)")
	streams := flag.StringSlice("stream", nil, "Streams to replay, e.g. LP_REWARDS/KITE (default: all)")
	verify := flag.Bool("verify", false, "Compare replayed payouts with the stored table")
	format := flag.String("format", "json", "Output format: json or csv")
	flag.Parse()

	// Payouts go to stdout, logs to stderr.
	log := logger.NewWithWriter(os.Stderr, *verbose)

	outFormat, err := payout.ParseFormat(*format)
	if err != nil {
		return err
	}

	cfg, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if cfg.Storage.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	set, closeStores, err := stores.Open(ctx, stores.Options{
		PostgresDSN: cfg.Storage.PostgresDSN,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	defer closeStores()

	var campaign *domain.CampaignRun
	if *runID == "" {
		campaign, err = set.Runs.GetLatest(ctx)
	} else {
		campaign, err = set.Runs.GetByID(ctx, *runID)
	}
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}

	ledger, err := app.LoadBridge(ctx, cfg, set.BridgeTransfers, campaign.EndBlock)
	if err != nil {
		return err
	}
	opts := replay.Options{
		Archives: set.Archives,
		Bridge:   ledger,
		Logger:   log,
	}
	if cfg.Sources.LPGEBSubgraphURL != "" {
		opts.Prices = subgraph.NewGEB(app.SubgraphClient(cfg, cfg.Sources.LPGEBSubgraphURL, log))
	}
	runner := replay.NewRunner(opts)

	log.Info("replaying run", "run_id", campaign.RunID, "status", campaign.Status, "bridge_transfers", ledger.Len())

	if *verify {
		report, err := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
			Payouts:  set.Payouts,
			Replayer: runner,
		}).VerifyRun(ctx, campaign.RunID)
		if err != nil {
			return err
		}
		for _, d := range report.Divergences {
			log.Warn("payout diverges",
				"token", d.Token,
				"address", d.Address,
				"stored", d.Expected.String(),
				"replayed", d.Actual.String(),
			)
		}
		if !report.Match {
			return fmt.Errorf("run %s: %d of %d payouts diverge", report.RunID, len(report.Divergences), report.PayoutsStored)
		}
		log.Info("replay matches stored payouts", "run_id", report.RunID, "payouts", report.PayoutsStored)
		return nil
	}

	var table domain.PayoutTable
	if len(*streams) == 0 {
		table, err = runner.RunAll(ctx, campaign.RunID)
	} else {
		table, err = runner.RunStreams(ctx, campaign.RunID, *streams...)
	}
	if err != nil {
		return err
	}
	return payout.Encode(os.Stdout, outFormat, campaign.RunID, table)
}
