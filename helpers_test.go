// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm_test

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/fhe"
	"github.com/luxfi/fhevm/fhe/memory"
	"github.com/luxfi/fhevm/signer"
)

const (
	testChainID         = 11155111
	testContractAddress = "0x00000000000000000000000000000000000000C0"

	testABI = `[
		{"type":"function","name":"balanceOf","stateMutability":"view",
		 "inputs":[{"name":"owner","type":"address"}],
		 "outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"transfer","stateMutability":"nonpayable",
		 "inputs":[{"name":"to","type":"address"},{"name":"handle","type":"bytes32"}],
		 "outputs":[]},
		{"type":"function","name":"add","stateMutability":"nonpayable",
		 "inputs":[{"name":"a","type":"bytes32"},{"name":"b","type":"bytes32"}],
		 "outputs":[{"name":"","type":"bytes32"}]},
		{"type":"function","name":"multiply","stateMutability":"nonpayable",
		 "inputs":[{"name":"a","type":"uint256"},{"name":"b","type":"uint256"}],
		 "outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"subtract","stateMutability":"nonpayable",
		 "inputs":[{"name":"a","type":"bytes32"}],
		 "outputs":[]}
	]`
)

// fakeChain is an in-memory chain endpoint.
type fakeChain struct {
	lock      sync.Mutex
	callOut   []byte
	callErr   error
	lastCall  ethereum.CallMsg
	sent      []*types.Transaction
	nonce     uint64
	chainID   *big.Int
	sendCalls atomic.Int32
}

func newFakeChain() *fakeChain {
	return &fakeChain{chainID: big.NewInt(testChainID)}
}

func (c *fakeChain) ChainID(context.Context) (*big.Int, error) { return c.chainID, nil }

func (c *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lastCall = msg
	return c.callOut, c.callErr
}

func (c *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return c.nonce, nil
}

func (*fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1)}, nil
}

func (*fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (*fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (*fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 50_000, nil }

func (c *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.sendCalls.Add(1)
	c.lock.Lock()
	defer c.lock.Unlock()
	c.sent = append(c.sent, tx)
	return nil
}

// countingBackend records how often each backend operation is reached.
type countingBackend struct {
	*memory.Backend
	encrypts    atomic.Int32
	decrypts    atomic.Int32
	keyFetches  atomic.Int32
	failEncrypt error
}

func (b *countingBackend) Encrypt(ctx context.Context, req *fhe.EncryptRequest) (*fhe.EncryptResult, error) {
	b.encrypts.Add(1)
	if b.failEncrypt != nil {
		return nil, b.failEncrypt
	}
	return b.Backend.Encrypt(ctx, req)
}

func (b *countingBackend) UserDecrypt(ctx context.Context, req *fhe.UserDecryptRequest) (*uint256.Int, error) {
	b.decrypts.Add(1)
	return b.Backend.UserDecrypt(ctx, req)
}

func (b *countingBackend) FetchPublicKey(ctx context.Context) ([]byte, error) {
	b.keyFetches.Add(1)
	return b.Backend.FetchPublicKey(ctx)
}

// countingSigner counts grant signatures. When gate is set, each signature
// waits for it to close.
type countingSigner struct {
	*signer.KeySigner
	signatures atomic.Int32
	gate       chan struct{}
}

func (s *countingSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	s.signatures.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.KeySigner.SignTypedData(ctx, data)
}

type env struct {
	session *fhevm.Session
	backend *countingBackend
	chain   *fakeChain
	key     *ecdsa.PrivateKey
	signer  *countingSigner
}

func (e *env) user() string {
	return common.Address(crypto.PubkeyToAddress(e.key.PublicKey)).Hex()
}

func newBackend(t *testing.T, opts ...memory.Option) *countingBackend {
	t.Helper()
	b, err := memory.New(testChainID, 0, opts...)
	require.NoError(t, err)
	return &countingBackend{Backend: b}
}

// newReadWriteEnv returns a ready session holding a signer.
func newReadWriteEnv(t *testing.T, opts ...fhevm.Option) *env {
	t.Helper()
	return newReadWriteEnvWithBackend(t, newBackend(t), opts...)
}

func newReadWriteEnvWithBackend(t *testing.T, backend *countingBackend, opts ...fhevm.Option) *env {
	t.Helper()
	require := require.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(err)
	chain := newFakeChain()
	ks, err := signer.New(key, chain)
	require.NoError(err)
	cs := &countingSigner{KeySigner: ks}

	s, err := fhevm.Initialize(fhevm.Config{
		ContractAddress: testContractAddress,
		ContractABI:     testABI,
		ChainID:         testChainID,
		Signer:          cs,
	}, append([]fhevm.Option{fhevm.WithBackend(backend)}, opts...)...)
	require.NoError(err)
	return &env{session: s, backend: backend, chain: chain, key: key, signer: cs}
}

// newReadOnlyEnv returns a ready session with only a provider.
func newReadOnlyEnv(t *testing.T) *env {
	t.Helper()
	chain := newFakeChain()
	backend := newBackend(t)
	s, err := fhevm.Initialize(fhevm.Config{
		ContractAddress: testContractAddress,
		ContractABI:     testABI,
		ChainID:         testChainID,
		Provider:        chain,
	}, fhevm.WithBackend(backend))
	require.NoError(t, err)
	return &env{session: s, backend: backend, chain: chain}
}
