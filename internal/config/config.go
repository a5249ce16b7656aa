package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "TAX"

// DefaultStablecoins are the Base dollar stablecoins priced at 1.00: native USDC,
// bridged USDbC and DAI.
var DefaultStablecoins = []string{
	"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
	"0xd9aaec86b65d86f6a7b5b1b0c42ffa531710b6ca",
	"0x50c5725949a6f0c72e6c4a641f24049a917db0cb",
}

// newViper merges defaults, TAX_ environment variables, flags and an optional
// config file. Without cfgFile a ./config.* file is read when present.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

// getRules reads category=tag pairs either as a list or as a config file map.
func getRules(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}
	if typed, ok := v.Get(key).(map[string]interface{}); ok {
		out := make([]string, 0, len(typed))
		for category, tag := range typed {
			out = append(out, fmt.Sprintf("%s=%v", category, tag))
		}
		return out
	}
	return getStringSlice(v, key)
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
