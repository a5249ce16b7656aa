package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxScope/internal/chain"
	"taxScope/internal/config"
	"taxScope/internal/indexer"
	"taxScope/internal/model"
	"taxScope/internal/storage"
)

func runIngest(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadIngest(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	wallets, err := indexer.ParseAddresses(cfg.Wallets)
	if err != nil {
		return err
	}
	hashes, err := indexer.ParseHashes(cfg.Hashes)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	runner := indexer.NewRunner(indexer.RunConfig{
		ChainID:           cfg.ChainID,
		ScanSent:          cfg.ScanSent,
		Wallets:           wallets,
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		Concurrency:       cfg.Concurrency,
	}, chainClient, storage.NewJsonlStorage("", cfg.Out), logger)

	existing, err := storage.ReadJSONL[model.RawTransaction](cfg.Out)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	runner.Seed(existing)

	logger.Info("ingest start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Bool("scan_sent", cfg.ScanSent),
		zap.Int("wallets", len(wallets)),
		zap.Int("tx_hashes", len(hashes)),
		zap.Int("known", len(existing)),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
	)

	if len(hashes) > 0 {
		n, err := runner.IngestHashes(ctx, wallets[0], hashes)
		if err != nil {
			return err
		}
		logger.Info("ingest complete", zap.Int("transactions", n))
		return nil
	}
	return runner.Run(ctx)
}
