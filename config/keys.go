// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package config

const (
	// Command line option keys
	ConfigFileKey = "config-file"
	VersionKey    = "version"
	HelpKey       = "help"

	// Top-level configuration keys
	LogLevelKey          = "log-level"
	APIPortKey           = "api-port"
	MetricsPortKey       = "metrics-port"
	RPCURLKey            = "rpc-url"
	ChainIDKey           = "chain-id"
	AllowedChainIDsKey   = "allowed-chain-ids"
	ContractAddressKey   = "contract-address"
	ContractABIKey       = "contract-abi"
	ContractABIPathKey   = "contract-abi-path"
	PrivateKeyKey        = "private-key"
	BackendKey           = "backend"
	RelayerURLKey        = "relayer-url"
	RelayerAPIKeyKey     = "relayer-api-key"
	RelayerTimeoutKey    = "relayer-timeout"
	MemoryCapacityKey    = "memory-capacity"
	KeyCacheTTLKey       = "key-cache-ttl"
	BatchConcurrencyKey  = "batch-concurrency"
	GrantDurationDaysKey = "grant-duration-days"
)
