// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"fmt"
	"strings"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
)

// Config describes the contract a session binds to and how to reach it.
// Exactly one usable connection must resolve: Signer (whose Provider is
// used) or, failing that, Provider.
type Config struct {
	// ContractAddress is the 0x-prefixed address of the FHE contract.
	ContractAddress string
	// ContractABI is the JSON ABI of the contract. It must be present; an
	// empty JSON array is accepted and yields a contract with no methods.
	ContractABI string
	// ChainID is the EVM chain ID, e.g. 11155111 for Sepolia.
	ChainID uint64
	// AllowedChainIDs optionally restricts ChainID. See KnownChainIDs.
	AllowedChainIDs []uint64

	Signer   Signer
	Provider Provider
}

// Validate checks the structural invariants of c without touching the
// network.
func (c *Config) Validate() error {
	_, err := c.parse()
	return err
}

type parsedConfig struct {
	address common.Address
	abi     abi.ABI
}

func (c *Config) parse() (*parsedConfig, error) {
	const op = "Initialize"
	if !ValidateAddress(c.ContractAddress) {
		return nil, NewError(KindConfiguration, op, fmt.Sprintf("invalid contract address %q", c.ContractAddress), nil)
	}
	if !ValidateChainID(c.ChainID, c.AllowedChainIDs...) {
		return nil, NewError(KindConfiguration, op, fmt.Sprintf("invalid chain ID %d", c.ChainID), nil)
	}
	if strings.TrimSpace(c.ContractABI) == "" {
		return nil, NewError(KindConfiguration, op, "contract ABI is required", nil)
	}
	parsed, err := abi.JSON(strings.NewReader(c.ContractABI))
	if err != nil {
		return nil, NewError(KindConfiguration, op, "contract ABI is malformed", err)
	}
	return &parsedConfig{
		address: common.HexToAddress(c.ContractAddress),
		abi:     parsed,
	}, nil
}
