package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// ReportConfig holds configuration for the report and classify commands.
type ReportConfig struct {
	In        string
	Contracts string
	Tokens    string
	Prices    string
	Wallets   []string

	OutDir     string
	CSV        string
	ReportJSON string
	StateDir   string

	Method          string
	Stablecoins     []string
	PriceTolerance  time.Duration
	TaxYearStart    string
	TaxTimezone     string
	IncomeRules     []string
	LongTermHolding time.Duration
	LookupTimeout   time.Duration
	Concurrency     int

	RPCURL            string
	FetchTokenMeta    bool
	CoinGeckoURL      string
	CoinGeckoKey      string
	CoinGeckoPlatform string
	RedisAddr         string
	RedisPassword     string
	PGDSN             string
	MaxRetries        int
	RetryBackoff      time.Duration

	LogLevel string
}

// LoadReport merges config file, environment variables, and flags into ReportConfig.
func LoadReport(cfgFile string, flags *pflag.FlagSet) (ReportConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"in":                 "./data/transactions.jsonl",
		"out-dir":            "./data/out",
		"method":             "FIFO",
		"stablecoins":        DefaultStablecoins,
		"price-tolerance":    time.Hour,
		"tax-year-start":     "01-01",
		"tax-timezone":       "UTC",
		"lookup-timeout":     15 * time.Second,
		"concurrency":        4,
		"coingecko-platform": "base",
		"max-retries":        3,
		"retry-backoff":      time.Second,
	})
	if err != nil {
		return ReportConfig{}, err
	}

	cfg := ReportConfig{
		In:                v.GetString("in"),
		Contracts:         v.GetString("contracts"),
		Tokens:            v.GetString("tokens"),
		Prices:            v.GetString("prices"),
		Wallets:           getStringSlice(v, "wallet"),
		OutDir:            v.GetString("out-dir"),
		CSV:               v.GetString("csv"),
		ReportJSON:        v.GetString("report-json"),
		StateDir:          v.GetString("state-dir"),
		Method:            v.GetString("method"),
		Stablecoins:       getStringSlice(v, "stablecoins"),
		PriceTolerance:    v.GetDuration("price-tolerance"),
		TaxYearStart:      v.GetString("tax-year-start"),
		TaxTimezone:       v.GetString("tax-timezone"),
		IncomeRules:       getRules(v, "income-rules"),
		LongTermHolding:   v.GetDuration("long-term-holding"),
		LookupTimeout:     v.GetDuration("lookup-timeout"),
		Concurrency:       v.GetInt("concurrency"),
		RPCURL:            v.GetString("rpc"),
		FetchTokenMeta:    v.GetBool("fetch-token-meta"),
		CoinGeckoURL:      v.GetString("coingecko-url"),
		CoinGeckoKey:      v.GetString("coingecko-key"),
		CoinGeckoPlatform: v.GetString("coingecko-platform"),
		RedisAddr:         v.GetString("redis-addr"),
		RedisPassword:     v.GetString("redis-password"),
		PGDSN:             v.GetString("pg-dsn"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
	}
	if cfg.In == "" {
		return ReportConfig{}, fmt.Errorf("in is required")
	}
	if cfg.PriceTolerance < 0 || cfg.LongTermHolding < 0 {
		return ReportConfig{}, fmt.Errorf("durations must not be negative")
	}
	if cfg.CSV == "" {
		cfg.CSV = cfg.OutDir + "/report.csv"
	}
	if cfg.ReportJSON == "" {
		cfg.ReportJSON = cfg.OutDir + "/report.json"
	}
	return cfg, nil
}
