// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func NewConfig(v *viper.Viper) (Config, error) {
	cfg, err := BuildConfig(v)
	if err != nil {
		return cfg, err
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("failed to validate configuration: %w", err)
	}
	return cfg, nil
}

// AddFlags registers every configuration key on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(ConfigFileKey, "", "Path to a JSON or YAML configuration file")
	fs.String(LogLevelKey, defaultLogLevel, "Log level")
	fs.Uint16(APIPortKey, defaultAPIPort, "Port of the HTTP API")
	fs.Uint16(MetricsPortKey, defaultMetricsPort, "Port of the Prometheus metrics endpoint")
	fs.String(RPCURLKey, "", "JSON-RPC endpoint of the chain")
	fs.Uint64(ChainIDKey, 0, "EVM chain ID")
	fs.StringSlice(AllowedChainIDsKey, nil, "Restrict chain-id to these IDs")
	fs.String(ContractAddressKey, "", "Address of the FHE contract")
	fs.String(ContractABIKey, "", "Inline JSON ABI of the FHE contract")
	fs.String(ContractABIPathKey, "", "Path to the JSON ABI of the FHE contract")
	fs.String(BackendKey, defaultBackend, "FHE backend: memory or relayer")
	fs.String(RelayerURLKey, "", "Base URL of the FHE relayer")
	fs.Duration(RelayerTimeoutKey, defaultRelayerTimeout, "Total retry budget per relayer call")
	fs.Int(MemoryCapacityKey, defaultMemoryCapacity, "Ciphertexts held by the memory backend")
	fs.Duration(KeyCacheTTLKey, 0, "Expire the cached public key after this long; 0 keeps it until refreshed")
	fs.Int(BatchConcurrencyKey, defaultBatchConcurrency, "Concurrent backend calls per batch")
	fs.Int64(GrantDurationDaysKey, defaultGrantDurationDays, "Validity of signed decryption grants in days")
}

// BuildViper binds fs and the environment. The private key and relayer API
// key are only read from the environment or the config file, never from flags.
// All keys may be provided via flags, config file or environment variable.
func BuildViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	// Map flag names to env var names. Flags are capitalized, and hyphens are replaced with underscores.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	for _, key := range []string{PrivateKeyKey, RelayerAPIKeyKey} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if !v.IsSet(ConfigFileKey) || v.GetString(ConfigFileKey) == "" {
		return v, nil
	}
	filename := v.GetString(ConfigFileKey)
	v.SetConfigFile(filename)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

func SetDefaultConfigValues(v *viper.Viper) {
	v.SetDefault(LogLevelKey, defaultLogLevel)
	v.SetDefault(APIPortKey, defaultAPIPort)
	v.SetDefault(MetricsPortKey, defaultMetricsPort)
	v.SetDefault(BackendKey, defaultBackend)
	v.SetDefault(RelayerTimeoutKey, defaultRelayerTimeout)
	v.SetDefault(MemoryCapacityKey, defaultMemoryCapacity)
	v.SetDefault(BatchConcurrencyKey, defaultBatchConcurrency)
	v.SetDefault(GrantDurationDaysKey, defaultGrantDurationDays)
}

// BuildConfig constructs the config using Viper.
// The following precedence order is used. Each item takes precedence over the item below it:
//  1. Flags
//  2. Environment
//  3. Config file
//  4. Defaults
func BuildConfig(v *viper.Viper) (Config, error) {
	SetDefaultConfigValues(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal viper config: %w", err)
	}
	return cfg, nil
}
