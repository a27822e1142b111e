// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/types"
)

func TestContractCall(t *testing.T) {
	require := require.New(t)

	e := newReadOnlyEnv(t)
	contract := e.session.Contract()

	out, err := contract.ABI().Methods["balanceOf"].Outputs.Pack(big.NewInt(1234))
	require.NoError(err)
	e.chain.callOut = out

	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	values, err := contract.Call(context.Background(), "balanceOf", owner)
	require.NoError(err)
	require.Len(values, 1)
	balance, ok := values[0].(*big.Int)
	require.True(ok)
	require.Zero(balance.Cmp(big.NewInt(1234)))
	require.Equal(contract.Address(), *e.chain.lastCall.To)
}

func TestContractCallFailures(t *testing.T) {
	require := require.New(t)

	e := newReadOnlyEnv(t)
	contract := e.session.Contract()
	ctx := context.Background()

	_, err := contract.Call(ctx, "missing")
	require.ErrorIs(err, fhevm.ErrValidation)

	_, err = contract.Call(ctx, "balanceOf", "not an address")
	require.ErrorIs(err, fhevm.ErrValidation)

	e.chain.callErr = errors.New("execution reverted")
	_, err = contract.Call(ctx, "balanceOf", common.Address{})
	require.ErrorIs(err, fhevm.ErrTransaction)
}

func TestContractSendRequiresSigner(t *testing.T) {
	e := newReadOnlyEnv(t)
	_, err := e.session.Contract().Send(context.Background(), "transfer", common.Address{}, [32]byte{})
	require.ErrorIs(t, err, fhevm.ErrAuthorization)
	require.Zero(t, e.chain.sendCalls.Load())
}

func TestContractSendEncryptedHandle(t *testing.T) {
	require := require.New(t)

	e := newReadWriteEnv(t)
	ctx := context.Background()

	h, err := fhevm.EncryptUint64(ctx, e.session, 1000)
	require.NoError(err)

	to := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	txHash, err := e.session.Contract().Send(ctx, "transfer", to, [types.HandleLen]byte(h.Handle))
	require.NoError(err)
	require.True(fhevm.ValidateTxHash(txHash.Hex()))

	require.Len(e.chain.sent, 1)
	tx := e.chain.sent[0]
	require.Equal(txHash, tx.Hash())
	require.Equal(e.session.Contract().Address(), *tx.To())

	contractABI := e.session.Contract().ABI()
	method, err := contractABI.MethodById(tx.Data()[:4])
	require.NoError(err)
	require.Equal("transfer", method.Name)
}
