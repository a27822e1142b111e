// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"fmt"

	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
)

// Contract is a contract reference bound to a session's connection.
type Contract struct {
	address  common.Address
	abi      abi.ABI
	provider Provider
	signer   Signer
}

func newContract(address common.Address, contractABI abi.ABI, provider Provider, signer Signer) *Contract {
	return &Contract{
		address:  address,
		abi:      contractABI,
		provider: provider,
		signer:   signer,
	}
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) ABI() abi.ABI {
	return c.abi
}

// Call invokes a read-only method and returns its decoded outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	const op = "Contract.Call"
	data, err := c.pack(op, method, args)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{To: &c.address, Data: data}
	if c.signer != nil {
		msg.From = c.signer.Address()
	}
	out, err := c.provider.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, NewError(KindTransaction, op, fmt.Sprintf("call to %s failed", method), err)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, NewError(KindTransaction, op, fmt.Sprintf("failed to decode %s result", method), err)
	}
	return values, nil
}

// Send submits a state-changing method call. It requires a signer.
func (c *Contract) Send(ctx context.Context, method string, args ...any) (common.Hash, error) {
	const op = "Contract.Send"
	if c.signer == nil {
		return common.Hash{}, NewError(KindAuthorization, op, "signer required for write operations", nil)
	}
	data, err := c.pack(op, method, args)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := c.signer.SendTransaction(ctx, c.address, data)
	if err != nil {
		return common.Hash{}, NewError(KindTransaction, op, fmt.Sprintf("%s transaction failed", method), err)
	}
	return hash, nil
}

func (c *Contract) pack(op, method string, args []any) ([]byte, error) {
	if _, ok := c.abi.Methods[method]; !ok {
		return nil, NewError(KindValidation, op, fmt.Sprintf("unknown method %q", method), nil)
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, NewError(KindValidation, op, fmt.Sprintf("invalid arguments for %s", method), err)
	}
	return data, nil
}
