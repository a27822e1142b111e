// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/fhevm/fhe"
	"github.com/luxfi/fhevm/types"
)

// DecryptedValue is the plaintext bound to a handle.
type DecryptedValue struct {
	Value     *big.Int     `json:"value"`
	Handle    types.Handle `json:"handle"`
	Timestamp time.Time    `json:"timestamp"`
}

// DecryptInput is one element of a DecryptBatch call.
type DecryptInput struct {
	Handle          types.Handle
	ContractAddress string
	UserAddress     string
}

// DecryptValue resolves the plaintext of handle for userAddress. The session
// must hold a signer controlling userAddress; it signs a decryption grant
// that the backend checks before releasing the plaintext.
func DecryptValue(ctx context.Context, s *Session, handle types.Handle, contractAddress, userAddress string) (*DecryptedValue, error) {
	const op = "DecryptValue"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	in := DecryptInput{Handle: handle, ContractAddress: contractAddress, UserAddress: userAddress}
	if err := s.checkDecryptInput(op, in); err != nil {
		return nil, err
	}
	return s.userDecrypt(ctx, op, in)
}

// DecryptBatch decrypts every item concurrently under the same contract as
// DecryptValue. All items are validated before any backend call, and any
// failure discards every result.
func DecryptBatch(ctx context.Context, s *Session, items []DecryptInput) ([]*DecryptedValue, error) {
	const op = "DecryptBatch"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	for i, in := range items {
		if err := s.checkDecryptInput(op, in); err != nil {
			err.Msg = fmt.Sprintf("item %d: %s", i, err.Msg)
			return nil, err
		}
	}
	return runBatch(ctx, s.batchLimit, items, func(ctx context.Context, in DecryptInput) (*DecryptedValue, error) {
		return s.userDecrypt(ctx, op, in)
	})
}

// PublicDecrypt resolves a handle the platform has marked publicly
// decryptable. No grant is signed, so read-only sessions may call it.
func PublicDecrypt(ctx context.Context, s *Session, handle types.Handle) (_ *DecryptedValue, err error) {
	const op = "PublicDecrypt"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	started := time.Now()
	defer func() { s.observe(op, started, err) }()

	v, err := s.backend.PublicDecrypt(ctx, handle)
	if err != nil {
		return nil, NewError(KindDecryption, op, fmt.Sprintf("failed to decrypt %s", handle), err)
	}
	return &DecryptedValue{Value: v.ToBig(), Handle: handle, Timestamp: s.now()}, nil
}

// CanDecrypt reports whether userAddress is allowed to decrypt handle. A
// malformed address fails with KindValidation rather than returning false.
func CanDecrypt(ctx context.Context, s *Session, handle types.Handle, userAddress string) (bool, error) {
	const op = "CanDecrypt"
	if err := s.ready(op); err != nil {
		return false, err
	}
	if !ValidateAddress(userAddress) {
		return false, NewError(KindValidation, op, fmt.Sprintf("invalid user address %q", userAddress), nil)
	}
	allowed, err := s.backend.IsAllowed(ctx, handle, common.HexToAddress(userAddress))
	if err != nil {
		return false, NewError(KindNetworkFetch, op, "failed to query access list", err)
	}
	return allowed, nil
}

func (s *Session) checkDecryptInput(op string, in DecryptInput) *Error {
	if !ValidateAddress(in.ContractAddress) {
		return NewError(KindValidation, op, fmt.Sprintf("invalid contract address %q", in.ContractAddress), nil)
	}
	if !ValidateAddress(in.UserAddress) {
		return NewError(KindValidation, op, fmt.Sprintf("invalid user address %q", in.UserAddress), nil)
	}
	signer := s.Signer()
	if signer == nil {
		return NewError(KindAuthorization, op, "signer required for decryption", nil)
	}
	if signer.Address() != common.HexToAddress(in.UserAddress) {
		return NewError(KindAuthorization, op, fmt.Sprintf("signer %s cannot authorize decryption for %s", signer.Address(), in.UserAddress), nil)
	}
	return nil
}

func (s *Session) userDecrypt(ctx context.Context, op string, in DecryptInput) (_ *DecryptedValue, err error) {
	started := time.Now()
	defer func() { s.observe(op, started, err) }()

	contract := common.HexToAddress(in.ContractAddress)
	user := common.HexToAddress(in.UserAddress)
	g, err := s.grant(ctx, op, contract, user)
	if err != nil {
		return nil, err
	}

	v, err := s.backend.UserDecrypt(ctx, &fhe.UserDecryptRequest{
		Handle:          in.Handle,
		ContractAddress: contract,
		UserAddress:     user,
		PublicKey:       g.PublicKey,
		StartTimestamp:  g.StartTimestamp,
		DurationDays:    g.DurationDays,
		GrantHash:       g.Hash,
		Signature:       g.Signature,
	})
	switch {
	case errors.Is(err, fhe.ErrNotAuthorized):
		// The backend may have rejected a grant issued under a rotated key.
		s.dropGrant(g.ID)
		return nil, NewError(KindAuthorization, op, fmt.Sprintf("%s may not decrypt %s", user, in.Handle), err)
	case err != nil:
		s.logger.Debug("decryption failed", log.Stringer("handle", in.Handle), log.Err(err))
		return nil, NewError(KindDecryption, op, fmt.Sprintf("failed to decrypt %s", in.Handle), err)
	}
	return &DecryptedValue{Value: v.ToBig(), Handle: in.Handle, Timestamp: s.now()}, nil
}
