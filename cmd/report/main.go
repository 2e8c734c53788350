// Package main exports the stored payout table of a run to the configured
// file and S3 sinks.
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
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	runID := flag.String("run-id", "", "Run to export (default: latest run)")
	outputDir := flag.String("output-dir", "", "Output directory (default: ./output)")
	format := flag.String("format", "json", "Output format: json or csv")
	flag.Parse()

	log := logger.New(*verbose)

	cfg, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if cfg.Storage.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required")
	}
	cfg.Output.Format = *format
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
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
	if campaign.Status != domain.RunStatusSucceeded {
		return fmt.Errorf("run %s did not succeed: %s", campaign.RunID, campaign.Error)
	}

	table, err := set.Payouts.GetByRun(ctx, campaign.RunID)
	if err != nil {
		return fmt.Errorf("load payouts: %w", err)
	}

	// The table is already stored; only publish to files and S3.
	sinks, err := app.Sinks(ctx, cfg, nil)
	if err != nil {
		return err
	}
	if err := payout.WriteAll(ctx, log, campaign.RunID, table, sinks...); err != nil {
		return err
	}

	for token, total := range results.Totals(table) {
		log.Info("payout total", "token", token, "amount", total.String(), "recipients", len(table[token]))
	}
	log.Info("report exported", "run_id", campaign.RunID, "dir", cfg.Output.Dir)
	return nil
}
