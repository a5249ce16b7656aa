package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxScope/internal/classify"
	"taxScope/internal/config"
	"taxScope/internal/metadata"
	"taxScope/internal/model"
	"taxScope/internal/storage"
)

func runClassify(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReport(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	txs, err := loadTransactions(cfg.In, cfg.Wallets)
	if err != nil {
		return err
	}
	reg, err := metadata.LoadRegistry(cfg.Contracts, cfg.Tokens)
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}
	classifier, err := classify.New(reg)
	if err != nil {
		return err
	}

	outPath := filepath.Join(cfg.OutDir, "classified.jsonl")
	writer, err := storage.NewJSONLWriter(outPath, false)
	if err != nil {
		return err
	}

	counts := make(map[model.ActionCategory]int)
	degraded := 0
	for _, ct := range classifier.ClassifyAll(txs) {
		counts[ct.Category]++
		if ct.Degraded {
			degraded++
		}
		if err := writer.Write(ct); err != nil {
			writer.Close()
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("flush %s: %w", outPath, err)
	}

	fields := []zap.Field{zap.Int("transactions", len(txs)), zap.Int("degraded", degraded), zap.String("out", outPath)}
	for _, category := range model.AllCategories {
		if n := counts[category]; n > 0 {
			fields = append(fields, zap.Int(string(category), n))
		}
	}
	logger.Info("classify complete", fields...)
	return nil
}
