// Package main copies standard bridge deposits from the L2 chain into the
// bridge transfer store, resuming from saved progress.
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
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"reward-distributor/internal/config"
	"reward-distributor/internal/logger"
	"reward-distributor/internal/observability"
	"reward-distributor/internal/sources/bridge"
	"reward-distributor/internal/sources/chain"
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
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	rpcURL := flag.String("rpc-url", "", "L2 RPC endpoint (or set RPC_URL env var)")
	fromBlock := flag.Uint64("from-block", 0, "First block to scan when no progress is saved")
	toBlock := flag.Uint64("to-block", 0, "Last block to scan (0 = chain head)")
	chunkSize := flag.Uint64("chunk-size", 5000, "Blocks per log query")
	follow := flag.Duration("follow", 0, "Keep polling the head at this interval (0 = exit after one pass)")
	flag.Parse()

	log := logger.New(*verbose)

	cfg, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if *rpcURL == "" {
		*rpcURL = cfg.Sources.RPCURL
	}
	if *rpcURL == "" {
		return errors.New("rpc url is required (--rpc-url or RPC_URL)")
	}
	if cfg.Sources.BridgeAddress == "" || !common.IsHexAddress(cfg.Sources.BridgeAddress) {
		return fmt.Errorf("BRIDGE_ADDRESS must be a hex address, got %q", cfg.Sources.BridgeAddress)
	}
	if cfg.Storage.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		go serveMetrics(log, *metricsAddr)
	}

	set, closeStores, err := stores.Open(ctx, stores.Options{
		PostgresDSN: cfg.Storage.PostgresDSN,
		Migrate:     true,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	defer closeStores()

	client, err := chain.Dial(ctx, *rpcURL)
	if err != nil {
		return err
	}
	defer client.Close()

	tokens := make(map[common.Address]string, len(cfg.Sources.BridgeTokens))
	for addr, cType := range cfg.Sources.BridgeTokens {
		tokens[common.HexToAddress(addr)] = cType
	}

	ingester := bridge.NewIngester(bridge.IngestOptions{
		Scanner: bridge.NewScanner(client, bridge.ScannerConfig{
			Bridge:   common.HexToAddress(cfg.Sources.BridgeAddress),
			Tokens:   tokens,
			ETHCType: cfg.Sources.BridgeETHCType,
		}),
		Transfers:  set.BridgeTransfers,
		Progress:   set.Progress,
		StartBlock: *fromBlock,
		ChunkSize:  *chunkSize,
		Logger:     log,
	})

	log.Info("starting bridge ingestion",
		"bridge", cfg.Sources.BridgeAddress,
		"tokens", len(tokens),
		"eth_collateral_type", cfg.Sources.BridgeETHCType,
	)

	for {
		head := *toBlock
		if head == 0 {
			head, err = client.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("get head block: %w", err)
			}
		}

		res, err := ingester.IngestUntil(ctx, head)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("ingestion cancelled")
				return nil
			}
			return err
		}
		log.Info("ingestion pass complete",
			"from_block", res.FromBlock,
			"to_block", res.ToBlock,
			"ingested", res.TransfersIngested,
			"duplicates", res.DuplicatesSkipped,
			"duration", res.Duration,
		)

		if *follow == 0 || *toBlock != 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			log.Info("shutdown complete")
			return nil
		case <-time.After(*follow):
		}
	}
}

func serveMetrics(log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	log.Info("starting metrics server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server failed", "error", err)
	}
}
