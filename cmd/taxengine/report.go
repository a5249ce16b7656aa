package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxScope/internal/chain"
	"taxScope/internal/classify"
	"taxScope/internal/config"
	"taxScope/internal/dex"
	"taxScope/internal/ledger"
	"taxScope/internal/metadata"
	"taxScope/internal/model"
	"taxScope/internal/pipeline"
	"taxScope/internal/pricing"
	"taxScope/internal/report"
	"taxScope/internal/storage"
	"taxScope/internal/storage/postgres"
	"taxScope/internal/valuation"
)

func runReport(cmd *cobra.Command, _ []string) error {
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

	// Reject bad settings before touching any input.
	method, err := ledger.ParseMethod(cfg.Method)
	if err != nil {
		return err
	}
	rules, err := ledger.ParseIncomeRules(cfg.IncomeRules)
	if err != nil {
		return err
	}
	boundary, err := report.ParseBoundary(cfg.TaxYearStart, cfg.TaxTimezone)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	txs, err := loadTransactions(cfg.In, cfg.Wallets)
	if err != nil {
		return err
	}
	reg, err := metadata.LoadRegistry(cfg.Contracts, cfg.Tokens)
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	var chainClient *chain.Client
	if cfg.RPCURL != "" {
		chainClient, err = chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
	}

	classifier, err := classify.New(reg)
	if err != nil {
		return err
	}
	if cfg.FetchTokenMeta && chainClient != nil {
		tokens := metadata.TransferTokens(classifier.Events(), txs)
		fetched := metadata.FetchMissingTokens(ctx, reg, chainClient, tokens, logger)
		logger.Info("token metadata fetched", zap.Int("tokens", len(tokens)), zap.Int("fetched", fetched))
	}

	resolver, closeResolver, err := buildResolver(cfg, reg, chainClient, logger)
	if err != nil {
		return err
	}
	defer closeResolver()

	sinks := storage.ResultSinks{storage.NewJsonlStorage(cfg.OutDir, "")}
	var state ledger.StateStore
	if cfg.StateDir != "" {
		state = &ledger.FileStateStore{Dir: cfg.StateDir}
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, store)
		state = &ledger.DBStateStore{Store: store}
	}

	p, err := pipeline.New(pipeline.Deps{
		Classifier: classifier,
		Valuer:     valuation.NewValuer(resolver, cfg.Concurrency, logger),
		Assembler:  report.NewAssembler(boundary, cfg.LongTermHolding),
		State:      state,
		Sink:       sinks,
		Logger:     logger,
	}, pipeline.Config{
		Ledger: ledger.Config{
			Method:          method,
			LongTermHolding: cfg.LongTermHolding,
			IncomeRules:     rules,
		},
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		return err
	}

	contracts, tokens := reg.Counts()
	logger.Info("report start",
		zap.String("in", cfg.In),
		zap.Int("transactions", len(txs)),
		zap.Int("contracts", contracts),
		zap.Int("tokens", tokens),
		zap.String("method", string(method)),
		zap.String("tax_year", boundary.String()),
		zap.Bool("resume", state != nil),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	results, err := p.Run(ctx, txs)
	if err != nil {
		return err
	}

	var rows []model.ReportRow
	reports := make([]model.TaxReport, 0, len(results))
	failed, fees := 0, 0
	for _, res := range results {
		rows = append(rows, report.Rows(res.Report)...)
		reports = append(reports, res.Report)
		failed += len(res.Failures)
		fees += len(res.Fees)
	}
	if err := storage.WriteReportCSV(cfg.CSV, rows); err != nil {
		return err
	}
	if err := writeJSON(cfg.ReportJSON, reports); err != nil {
		return err
	}

	logger.Info("report complete",
		zap.Int("wallets", len(results)),
		zap.Int("rows", len(rows)),
		zap.Int("failed_tokens", failed),
		zap.Int("fees", fees),
		zap.String("csv", cfg.CSV),
		zap.String("report_json", cfg.ReportJSON),
	)
	return nil
}

// buildResolver assembles price sources in lookup order: pool state when an RPC is
// available, then local samples, then CoinGecko. The returned func releases caches.
func buildResolver(cfg config.ReportConfig, reg *metadata.Registry, chainClient *chain.Client, logger *zap.Logger) (*pricing.Resolver, func(), error) {
	closer := func() {}
	var feeds []pricing.Source

	if cfg.Prices != "" {
		samples, err := storage.ReadJSONL[model.PriceSample](cfg.Prices)
		if err != nil {
			return nil, closer, fmt.Errorf("load price samples: %w", err)
		}
		feeds = append(feeds, pricing.NewFeedSource("samples", pricing.NewStaticFeed(samples), cfg.PriceTolerance))
	}

	if cfg.CoinGeckoURL != "" || cfg.CoinGeckoKey != "" {
		var cache pricing.SampleCache = pricing.NewMemoryCache(24 * time.Hour)
		if cfg.RedisAddr != "" {
			redisCache := pricing.NewRedisCache(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, "taxscope:prices:")
			cache = redisCache
			closer = func() {
				if err := redisCache.Close(); err != nil {
					logger.Warn("close redis", zap.Error(err))
				}
			}
		}
		feed := pricing.NewCoinGeckoFeed(pricing.CoinGeckoConfig{
			BaseURL:    cfg.CoinGeckoURL,
			APIKey:     cfg.CoinGeckoKey,
			Platform:   cfg.CoinGeckoPlatform,
			Timeout:    cfg.LookupTimeout,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryBackoff,
		}, cache, logger)
		feeds = append(feeds, pricing.NewFeedSource("coingecko", feed, cfg.PriceTolerance))
	}

	var sources []pricing.Source
	if chainClient != nil {
		var anchor pricing.Source
		if len(feeds) > 0 {
			anchor = feeds[len(feeds)-1]
		}
		sources = append(sources, pricing.NewPoolSource(reg, dex.NewPoolReader(chainClient), cfg.Stablecoins, anchor))
	}
	sources = append(sources, feeds...)
	if len(sources) == 0 {
		logger.Warn("no price sources configured; only stablecoins will be priced")
	}

	resolver := pricing.NewResolver(pricing.ResolverConfig{
		Stablecoins:   cfg.Stablecoins,
		LookupTimeout: cfg.LookupTimeout,
	}, sources, logger)
	return resolver, closer, nil
}

// loadTransactions reads raw transactions, keeping only wallets when set.
func loadTransactions(path string, wallets []string) ([]model.RawTransaction, error) {
	txs, err := storage.ReadJSONL[model.RawTransaction](path)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	if len(wallets) == 0 {
		return txs, nil
	}
	keep := make(map[string]struct{}, len(wallets))
	for _, wallet := range wallets {
		keep[model.NormalizeAddress(wallet)] = struct{}{}
	}
	out := txs[:0]
	for _, tx := range txs {
		if _, ok := keep[tx.Wallet]; ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

func writeJSON(path string, value interface{}) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
