// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"math/big"

	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/signer/core/apitypes"
)

// Provider is a read-only connection to the chain. *ethclient.Client
// satisfies it.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Signer is an account able to authorize decryption grants and send
// transactions.
type Signer interface {
	Address() common.Address

	// Provider returns the connection the signer is bound to, or nil.
	Provider() Provider

	// SignTypedData returns a 65 byte [R || S || V] signature over the
	// EIP-712 digest of data.
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)

	// SendTransaction signs and broadcasts a call to to with data.
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// KeyProvider supplies the platform public key used in decryption grants.
// keys.Manager and keys.RefreshableManager satisfy it.
type KeyProvider interface {
	PublicKey(ctx context.Context) ([]byte, error)
}
