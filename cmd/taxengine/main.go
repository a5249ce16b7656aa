package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "taxengine",
		Short:        "Aerodrome wallet tax engine for Base",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch wallet transactions and receipts from RPC into JSONL",
		RunE:  runIngest,
	}

	ingestCmd.Flags().String("rpc", "", "Base RPC URL")
	ingestCmd.Flags().Uint64("chain-id", 8453, "expected chain id of the RPC, 0 skips the check")
	ingestCmd.Flags().Bool("scan-sent", true, "also find wallet-sent transactions without token logs")
	ingestCmd.Flags().StringSlice("wallet", nil, "wallet addresses (comma-separated)")
	ingestCmd.Flags().StringSlice("tx", nil, "specific transaction hashes to fetch for a single wallet (incoming plain ETH sends are not found by scanning)")
	ingestCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	ingestCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	ingestCmd.Flags().Uint64("batch-size", 2000, "blocks per log query")
	ingestCmd.Flags().String("out", "./data/transactions.jsonl", "output transactions JSONL")
	ingestCmd.Flags().String("checkpoint", "./data/ingest_checkpoint.json", "checkpoint file path")
	ingestCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	ingestCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	ingestCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	ingestCmd.Flags().Int("concurrency", 4, "parallel receipt fetches")
	ingestCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(ingestCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Classify, value and lot-match transactions into a tax report",
		RunE:  runReport,
	}
	addReportFlags(reportCmd)
	root.AddCommand(reportCmd)

	classifyCmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify transactions and write the result JSONL",
		RunE:  runClassify,
	}
	classifyCmd.Flags().String("in", "./data/transactions.jsonl", "input transactions JSONL")
	classifyCmd.Flags().String("contracts", "", "protocol contracts dataset JSONL")
	classifyCmd.Flags().String("tokens", "", "token metadata dataset JSONL")
	classifyCmd.Flags().String("out-dir", "./data/out", "output directory")
	classifyCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(classifyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addReportFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("in", "./data/transactions.jsonl", "input transactions JSONL")
	flags.String("contracts", "", "protocol contracts dataset JSONL")
	flags.String("tokens", "", "token metadata dataset JSONL")
	flags.String("prices", "", "historical price samples JSONL")
	flags.StringSlice("wallet", nil, "only report these wallets")
	flags.String("out-dir", "./data/out", "directory for event and review JSONL")
	flags.String("csv", "", "report CSV path (default <out-dir>/report.csv)")
	flags.String("report-json", "", "report JSON path (default <out-dir>/report.json)")
	flags.String("state-dir", "", "directory for ledger checkpoints; empty disables resume")
	flags.String("method", "FIFO", "lot matching method (FIFO, LIFO)")
	flags.StringSlice("stablecoins", nil, "token addresses priced at 1.00 USD")
	flags.Duration("price-tolerance", time.Hour, "maximum distance to a price sample")
	flags.String("tax-year-start", "01-01", "first day of the tax year (MM-DD)")
	flags.String("tax-timezone", "UTC", "time zone of the tax year boundary")
	flags.StringSlice("income-rules", nil, "category tag overrides (CATEGORY=income|capital)")
	flags.Duration("long-term-holding", 0, "holding period for long-term treatment (e.g. 8760h), 0 disables")
	flags.Duration("lookup-timeout", 15*time.Second, "per price lookup timeout")
	flags.Int("concurrency", 4, "parallel wallets, tokens and price lookups")
	flags.String("rpc", "", "Base RPC URL for pool prices and token metadata")
	flags.Bool("fetch-token-meta", false, "fetch unknown token metadata over RPC")
	flags.String("coingecko-url", "", "CoinGecko API base URL")
	flags.String("coingecko-key", "", "CoinGecko API key")
	flags.String("coingecko-platform", "base", "CoinGecko asset platform")
	flags.String("redis-addr", "", "Redis address for the price cache")
	flags.String("redis-password", "", "Redis password")
	flags.String("pg-dsn", "", "Postgres DSN for events, review queue and checkpoints")
	flags.Int("max-retries", 3, "maximum retry attempts for price lookups")
	flags.Duration("retry-backoff", time.Second, "initial retry backoff")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
