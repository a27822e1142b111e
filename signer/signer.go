// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

// Package signer provides an fhevm.Signer backed by a local secp256k1 key.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/luxfi/crypto"
	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/signer/core/apitypes"
	"github.com/luxfi/log"

	"github.com/luxfi/fhevm"
)

// If the base fee is known, allow it to grow this much before inclusion.
const defaultBaseFeeFactor = 3

var (
	_ fhevm.Signer = (*KeySigner)(nil)

	errMissingKey = errors.New("private key required")
)

// Backend is the chain access the signer needs. *ethclient.Client satisfies
// it.
type Backend interface {
	fhevm.Provider
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type Option func(*KeySigner)

func WithLogger(logger log.Logger) Option {
	return func(s *KeySigner) { s.logger = logger }
}

// WithMaxPriorityFee caps the suggested tip. Zero leaves it uncapped.
func WithMaxPriorityFee(fee *big.Int) Option {
	return func(s *KeySigner) { s.maxPriorityFee = fee }
}

// KeySigner signs typed data and transactions with a private key.
type KeySigner struct {
	key            *ecdsa.PrivateKey
	address        common.Address
	backend        Backend
	logger         log.Logger
	maxPriorityFee *big.Int

	// Transactions are sent in nonce order; nonceKnown is cleared after a
	// failed send so that the next send refetches the pending nonce.
	nonceLock  sync.Mutex
	nonce      uint64
	nonceKnown bool
}

func New(key *ecdsa.PrivateKey, backend Backend, opts ...Option) (*KeySigner, error) {
	if key == nil {
		return nil, errMissingKey
	}
	s := &KeySigner{
		key:     key,
		address: common.Address(crypto.PubkeyToAddress(key.PublicKey)),
		backend: backend,
		logger:  log.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FromHex parses a hex private key, with or without 0x prefix.
func FromHex(hexKey string, backend Backend, opts ...Option) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errMissingKey
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return New(key, backend, opts...)
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

// Provider returns the chain backend, or nil if the signer was created
// without one.
func (s *KeySigner) Provider() fhevm.Provider {
	if s.backend == nil {
		return nil
	}
	return s.backend
}

// SignTypedData returns the 65 byte [R || S || V] signature of the EIP-712
// digest of data, with V in {27, 28}.
func (s *KeySigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SendTransaction signs and broadcasts a call to the contract at to.
func (s *KeySigner) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if s.backend == nil {
		return common.Hash{}, errors.New("signer has no chain backend")
	}
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get chain id: %w", err)
	}
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.address, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	s.nonceLock.Lock()
	defer s.nonceLock.Unlock()

	if !s.nonceKnown {
		s.nonce, err = s.backend.PendingNonceAt(ctx, s.address)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to get pending nonce: %w", err)
		}
		s.nonceKnown = true
	}

	tx, err := s.newTx(ctx, chainID, s.nonce, to, gas, data)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	s.logger.Info("sending transaction",
		log.Stringer("txID", signed.Hash()),
		log.Stringer("to", to),
		log.Uint64("nonce", s.nonce),
	)
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		s.nonceKnown = false
		s.logger.Error("failed to send transaction", log.Err(err))
		return common.Hash{}, err
	}
	s.nonce++
	return signed.Hash(), nil
}

func (s *KeySigner) newTx(ctx context.Context, chainID *big.Int, nonce uint64, to common.Address, gas uint64, data []byte) (*types.Transaction, error) {
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if header.BaseFee == nil {
		gasPrice, err := s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Data:     data,
		}), nil
	}

	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	if s.maxPriorityFee != nil && s.maxPriorityFee.Sign() > 0 && tip.Cmp(s.maxPriorityFee) > 0 {
		tip = s.maxPriorityFee
	}
	maxBaseFee := new(big.Int).Mul(header.BaseFee, big.NewInt(defaultBaseFeeFactor))
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: new(big.Int).Add(maxBaseFee, tip),
		Gas:       gas,
		To:        &to,
		Data:      data,
	}), nil
}
