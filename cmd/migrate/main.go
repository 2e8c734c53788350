// Package main applies the embedded PostgreSQL and ClickHouse migrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"reward-distributor/internal/config"
	"reward-distributor/internal/logger"
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
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (or set POSTGRES_DSN env var)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (or set CLICKHOUSE_DSN env var)")
	flag.Parse()

	log := logger.New(*verbose)

	cfg, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if *postgresDSN == "" {
		*postgresDSN = cfg.Storage.PostgresDSN
	}
	if *clickhouseDSN == "" {
		*clickhouseDSN = cfg.Storage.ClickhouseDSN
	}
	if *postgresDSN == "" && *clickhouseDSN == "" {
		return errors.New("nothing to migrate: set POSTGRES_DSN or CLICKHOUSE_DSN")
	}

	_, closeStores, err := stores.Open(context.Background(), stores.Options{
		PostgresDSN:   *postgresDSN,
		ClickhouseDSN: *clickhouseDSN,
		Migrate:       true,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	closeStores()

	log.Info("migrations applied", "postgres", *postgresDSN != "", "clickhouse", *clickhouseDSN != "")
	return nil
}
