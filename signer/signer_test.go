// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package signer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/luxfi/crypto"
	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/math"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/signer/core/apitypes"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	lock    sync.Mutex
	chainID *big.Int
	nonce   uint64
	baseFee *big.Int
	sendErr error
	sent    []*types.Transaction
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return b.chainID, nil }

func (b *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.nonce, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: b.baseFee}, nil
}

func (*fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(100), nil }

func (*fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(50), nil }

func (*fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 21_000, nil }

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func testTypedData(contract common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Message": {
				{Name: "value", Type: "uint256"},
			},
		},
		PrimaryType: "Message",
		Domain: apitypes.TypedDataDomain{
			Name:              "Test",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(1),
			VerifyingContract: contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"value": "42",
		},
	}
}

func TestFromHex(t *testing.T) {
	require := require.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	s, err := FromHex(hexKey, nil)
	require.NoError(err)
	require.Equal(common.Address(crypto.PubkeyToAddress(key.PublicKey)), s.Address())
	require.Nil(s.Provider())

	_, err = FromHex("", nil)
	require.ErrorIs(err, errMissingKey)
	_, err = FromHex("0xzz", nil)
	require.Error(err)
}

func TestSignTypedDataRecoversAddress(t *testing.T) {
	require := require.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(err)
	s, err := New(key, nil)
	require.NoError(err)

	data := testTypedData(common.HexToAddress("0x00000000000000000000000000000000000000c0"))
	sig, err := s.SignTypedData(context.Background(), data)
	require.NoError(err)
	require.Len(sig, crypto.SignatureLength)
	require.Contains([]byte{27, 28}, sig[crypto.RecoveryIDOffset])

	hash, _, err := apitypes.TypedDataAndHash(data)
	require.NoError(err)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(err)
	require.Equal(s.Address(), common.Address(crypto.PubkeyToAddress(*pub)))
}

func TestSendTransaction(t *testing.T) {
	require := require.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(err)
	backend := &fakeBackend{chainID: big.NewInt(11155111), nonce: 5, baseFee: big.NewInt(10)}
	s, err := New(key, backend, WithMaxPriorityFee(big.NewInt(40)))
	require.NoError(err)
	require.NotNil(s.Provider())

	to := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ctx := context.Background()
	h1, err := s.SendTransaction(ctx, to, []byte{0x01})
	require.NoError(err)
	h2, err := s.SendTransaction(ctx, to, []byte{0x02})
	require.NoError(err)
	require.NotEqual(h1, h2)

	require.Len(backend.sent, 2)
	for i, tx := range backend.sent {
		require.Equal(uint64(5+i), tx.Nonce())
		require.Equal(uint8(types.DynamicFeeTxType), tx.Type())
		require.Equal(big.NewInt(40), tx.GasTipCap())
		require.Equal(big.NewInt(70), tx.GasFeeCap())
		require.Equal(&to, tx.To())

		sender, err := types.Sender(types.LatestSignerForChainID(backend.chainID), tx)
		require.NoError(err)
		require.Equal(s.Address(), sender)
	}
	require.Equal(backend.sent[0].Hash(), h1)
}

func TestSendTransactionLegacyChain(t *testing.T) {
	require := require.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(err)
	backend := &fakeBackend{chainID: big.NewInt(1)}
	s, err := New(key, backend)
	require.NoError(err)

	_, err = s.SendTransaction(context.Background(), common.Address{1}, nil)
	require.NoError(err)
	require.Len(backend.sent, 1)
	require.Equal(uint8(types.LegacyTxType), backend.sent[0].Type())
	require.Equal(big.NewInt(50), backend.sent[0].GasPrice())
}

func TestSendFailureRefetchesNonce(t *testing.T) {
	require := require.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(err)
	backend := &fakeBackend{chainID: big.NewInt(1), baseFee: big.NewInt(1)}
	s, err := New(key, backend)
	require.NoError(err)

	backend.sendErr = errors.New("nonce too low")
	_, err = s.SendTransaction(context.Background(), common.Address{1}, nil)
	require.Error(err)

	backend.sendErr = nil
	backend.nonce = 9
	_, err = s.SendTransaction(context.Background(), common.Address{1}, nil)
	require.NoError(err)
	require.Equal(uint64(9), backend.sent[0].Nonce())
}

func TestSendWithoutBackend(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := New(key, nil)
	require.NoError(t, err)
	_, err = s.SendTransaction(context.Background(), common.Address{1}, nil)
	require.Error(t, err)
}
