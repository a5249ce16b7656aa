package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// IngestConfig holds configuration for the ingest command.
type IngestConfig struct {
	RPCURL            string
	ChainID           uint64
	ScanSent          bool
	Wallets           []string
	Hashes            []string
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Out               string
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	Concurrency       int
	LogLevel          string
}

// LoadIngest merges config file, environment variables, and flags into IngestConfig.
func LoadIngest(cfgFile string, flags *pflag.FlagSet) (IngestConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"chain-id":           uint64(8453),
		"scan-sent":          true,
		"batch-size":         uint64(2000),
		"out":                "./data/transactions.jsonl",
		"checkpoint":         "./data/ingest_checkpoint.json",
		"checkpoint-enabled": true,
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
		"concurrency":        4,
	})
	if err != nil {
		return IngestConfig{}, err
	}

	cfg := IngestConfig{
		RPCURL:            v.GetString("rpc"),
		ChainID:           v.GetUint64("chain-id"),
		ScanSent:          v.GetBool("scan-sent"),
		Wallets:           getStringSlice(v, "wallet"),
		Hashes:            getStringSlice(v, "tx"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Out:               v.GetString("out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		Concurrency:       v.GetInt("concurrency"),
		LogLevel:          v.GetString("log-level"),
	}
	if cfg.RPCURL == "" {
		return IngestConfig{}, fmt.Errorf("rpc is required")
	}
	if len(cfg.Wallets) == 0 {
		return IngestConfig{}, fmt.Errorf("at least one wallet is required")
	}
	if len(cfg.Hashes) > 0 && len(cfg.Wallets) != 1 {
		return IngestConfig{}, fmt.Errorf("tx hashes require exactly one wallet")
	}
	return cfg, nil
}
