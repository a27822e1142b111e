// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/luxfi/fhevm"
)

const (
	BackendMemory  = "memory"
	BackendRelayer = "relayer"

	defaultLogLevel          = "info"
	defaultAPIPort           = uint16(8080)
	defaultMetricsPort       = uint16(9090)
	defaultBackend           = BackendMemory
	defaultMemoryCapacity    = 4096
	defaultRelayerTimeout    = 30 * time.Second
	defaultBatchConcurrency  = 16
	defaultGrantDurationDays = 10
)

var (
	errMissingContractAddress = errors.New("contract-address is required")
	errMissingRPCURL          = errors.New("rpc-url is required")
	errMissingRelayerURL      = errors.New("relayer-url is required for the relayer backend")
	errAmbiguousABI           = errors.New("only one of contract-abi and contract-abi-path may be set")
	errMissingABI             = errors.New("one of contract-abi or contract-abi-path is required")

	logLevels = []string{"verbo", "debug", "trace", "info", "warn", "error", "fatal", "off"}
)

// Config is the process configuration of the fhevm CLI and server.
type Config struct {
	LogLevel    string `mapstructure:"log-level" json:"log-level"`
	APIPort     uint16 `mapstructure:"api-port" json:"api-port"`
	MetricsPort uint16 `mapstructure:"metrics-port" json:"metrics-port"`

	RPCURL          string   `mapstructure:"rpc-url" json:"rpc-url"`
	ChainID         uint64   `mapstructure:"chain-id" json:"chain-id"`
	AllowedChainIDs []uint64 `mapstructure:"allowed-chain-ids" json:"allowed-chain-ids"`
	ContractAddress string   `mapstructure:"contract-address" json:"contract-address"`
	ContractABI     string   `mapstructure:"contract-abi" json:"contract-abi"`
	ContractABIPath string   `mapstructure:"contract-abi-path" json:"contract-abi-path"`

	// PrivateKey is optional. Without it the session is read-only.
	PrivateKey string `mapstructure:"private-key" json:"-"`

	Backend        string        `mapstructure:"backend" json:"backend"`
	RelayerURL     string        `mapstructure:"relayer-url" json:"relayer-url"`
	RelayerAPIKey  string        `mapstructure:"relayer-api-key" json:"-"`
	RelayerTimeout time.Duration `mapstructure:"relayer-timeout" json:"relayer-timeout"`
	MemoryCapacity int           `mapstructure:"memory-capacity" json:"memory-capacity"`

	KeyCacheTTL       time.Duration `mapstructure:"key-cache-ttl" json:"key-cache-ttl"`
	BatchConcurrency  int           `mapstructure:"batch-concurrency" json:"batch-concurrency"`
	GrantDurationDays int64         `mapstructure:"grant-duration-days" json:"grant-duration-days"`
}

// Validate checks the fields that do not require network access.
func (c *Config) Validate() error {
	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("invalid log-level %q", c.LogLevel)
	}
	if c.ContractAddress == "" {
		return errMissingContractAddress
	}
	if !fhevm.ValidateAddress(c.ContractAddress) {
		return fmt.Errorf("invalid contract-address %q", c.ContractAddress)
	}
	if !fhevm.ValidateChainID(c.ChainID, c.AllowedChainIDs...) {
		return fmt.Errorf("invalid chain-id %d", c.ChainID)
	}
	switch {
	case c.ContractABI != "" && c.ContractABIPath != "":
		return errAmbiguousABI
	case c.ContractABI == "" && c.ContractABIPath == "":
		return errMissingABI
	}
	if c.RPCURL == "" {
		return errMissingRPCURL
	}
	if _, err := url.Parse(c.RPCURL); err != nil {
		return fmt.Errorf("invalid rpc-url: %w", err)
	}
	switch c.Backend {
	case BackendMemory:
	case BackendRelayer:
		if c.RelayerURL == "" {
			return errMissingRelayerURL
		}
	default:
		return fmt.Errorf("invalid backend %q: must be %s or %s", c.Backend, BackendMemory, BackendRelayer)
	}
	if c.GrantDurationDays <= 0 {
		return fmt.Errorf("grant-duration-days must be positive, got %d", c.GrantDurationDays)
	}
	if c.KeyCacheTTL < 0 {
		return fmt.Errorf("key-cache-ttl must not be negative, got %s", c.KeyCacheTTL)
	}
	return nil
}

// LoadABI returns the inline ABI or reads it from ContractABIPath.
func (c *Config) LoadABI() (string, error) {
	if c.ContractABI != "" {
		return c.ContractABI, nil
	}
	b, err := os.ReadFile(os.ExpandEnv(c.ContractABIPath))
	if err != nil {
		return "", fmt.Errorf("failed to read contract ABI: %w", err)
	}
	return string(b), nil
}
