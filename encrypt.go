// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"

	"github.com/luxfi/fhevm/fhe"
	"github.com/luxfi/fhevm/types"
)

// EncryptedHandle references a ciphertext created by the backend. It is
// never mutated.
type EncryptedHandle struct {
	Handle     types.Handle        `json:"handle"`
	Type       types.EncryptedType `json:"type"`
	InputProof []byte              `json:"inputProof"`
	Timestamp  time.Time           `json:"timestamp"`
}

// EncryptInput is one element of an EncryptBatch call. Value accepts the
// representations listed on ValidateNumericValue.
type EncryptInput struct {
	Value any
	Type  types.EncryptedType
}

// EncryptValue validates value against t and asks the backend to encrypt it
// for the session's contract. Range or type violations fail with
// KindValidation before any backend call.
func EncryptValue(ctx context.Context, s *Session, value any, t types.EncryptedType) (*EncryptedHandle, error) {
	const op = "EncryptValue"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	v, err := checkEncryptInput(op, value, t)
	if err != nil {
		return nil, err
	}
	return s.encrypt(ctx, op, v, t)
}

// EncryptBatch encrypts every item concurrently. All items are validated
// before any backend call. On any failure the first error is returned and
// no handles are.
func EncryptBatch(ctx context.Context, s *Session, items []EncryptInput) ([]*EncryptedHandle, error) {
	const op = "EncryptBatch"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	values := make([]*uint256.Int, len(items))
	for i, item := range items {
		v, err := checkEncryptInput(op, item.Value, item.Type)
		if err != nil {
			err.Msg = fmt.Sprintf("item %d: %s", i, err.Msg)
			return nil, err
		}
		values[i] = v
	}

	indexes := make([]int, len(items))
	for i := range indexes {
		indexes[i] = i
	}
	return runBatch(ctx, s.batchLimit, indexes, func(ctx context.Context, i int) (*EncryptedHandle, error) {
		return s.encrypt(ctx, op, values[i], items[i].Type)
	})
}

func EncryptUint8(ctx context.Context, s *Session, v uint8) (*EncryptedHandle, error) {
	return EncryptValue(ctx, s, v, types.Euint8)
}

func EncryptUint16(ctx context.Context, s *Session, v uint16) (*EncryptedHandle, error) {
	return EncryptValue(ctx, s, v, types.Euint16)
}

func EncryptUint32(ctx context.Context, s *Session, v uint32) (*EncryptedHandle, error) {
	return EncryptValue(ctx, s, v, types.Euint32)
}

func EncryptUint64(ctx context.Context, s *Session, v uint64) (*EncryptedHandle, error) {
	return EncryptValue(ctx, s, v, types.Euint64)
}

// EncryptUint128 fails with KindValidation if v does not fit in 128 bits.
func EncryptUint128(ctx context.Context, s *Session, v *big.Int) (*EncryptedHandle, error) {
	return EncryptValue(ctx, s, v, types.Euint128)
}

func EncryptUint256(ctx context.Context, s *Session, v *uint256.Int) (*EncryptedHandle, error) {
	return EncryptValue(ctx, s, v, types.Euint256)
}

func checkEncryptInput(op string, value any, t types.EncryptedType) (*uint256.Int, *Error) {
	if !t.Valid() {
		return nil, NewError(KindValidation, op, fmt.Sprintf("invalid type %s: must be one of %s", t, strings.Join(types.TypeNames(), ", ")), nil)
	}
	if value == nil {
		return nil, NewError(KindValidation, op, "value is required", nil)
	}
	v, ok := toBig(value)
	if !ok {
		return nil, NewError(KindValidation, op, fmt.Sprintf("unsupported value %v of type %T", value, value), nil)
	}
	if !t.ContainsBig(v) {
		return nil, NewError(KindValidation, op, fmt.Sprintf("%s value must be between 0 and %s, got %s", t, t.Max().Dec(), v), nil)
	}
	return uint256.MustFromBig(v), nil
}

func (s *Session) encrypt(ctx context.Context, op string, v *uint256.Int, t types.EncryptedType) (_ *EncryptedHandle, err error) {
	started := time.Now()
	defer func() { s.observe(op, started, err) }()

	res, err := s.backend.Encrypt(ctx, &fhe.EncryptRequest{
		Type:            t,
		Value:           v,
		ContractAddress: s.Contract().Address(),
		UserAddress:     s.userAddress(),
		ChainID:         s.cfg.ChainID,
	})
	if err != nil {
		s.logger.Debug("encryption failed", log.Stringer("type", t), log.Err(err))
		return nil, NewError(KindEncryption, op, fmt.Sprintf("failed to encrypt %s", t), err)
	}
	return &EncryptedHandle{
		Handle:     res.Handle,
		Type:       t,
		InputProof: res.InputProof,
		Timestamp:  s.now(),
	}, nil
}
