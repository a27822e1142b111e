// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/fhevm/types"
)

// Operation is a homomorphic operation evaluated on-chain by the session
// contract. Its value is the name of the contract method that performs it.
type Operation string

const (
	OperationAdd      Operation = "add"
	OperationSubtract Operation = "subtract"
	OperationMultiply Operation = "multiply"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationAdd, OperationSubtract, OperationMultiply:
		return true
	default:
		return false
	}
}

// Compute submits op(lhs, rhs) to the contract method named after op and
// returns the transaction hash. The contract produces the result handle; it
// is not known until the transaction is mined.
//
// Each operand is passed as the method's input type requires: bytes32 as the
// raw handle and uint256 as its integer value.
func Compute(ctx context.Context, s *Session, op Operation, lhs, rhs types.Handle) (_ common.Hash, err error) {
	const name = "Compute"
	if err := s.ready(name); err != nil {
		return common.Hash{}, err
	}
	if !op.Valid() {
		return common.Hash{}, NewError(KindValidation, name, fmt.Sprintf("unsupported operation %q", op), nil)
	}
	if lhs.IsZero() || rhs.IsZero() {
		return common.Hash{}, NewError(KindValidation, name, "operands must be non-zero handles", nil)
	}
	if !s.CanWrite() {
		return common.Hash{}, NewError(KindAuthorization, name, "signer required for computation", nil)
	}

	contract := s.Contract()
	method, ok := contract.ABI().Methods[string(op)]
	if !ok {
		return common.Hash{}, NewError(KindConfiguration, name, fmt.Sprintf("contract has no %s method", op), nil)
	}
	if len(method.Inputs) != 2 {
		return common.Hash{}, NewError(KindConfiguration, name, fmt.Sprintf("%s takes %d inputs, want 2", op, len(method.Inputs)), nil)
	}
	args := make([]any, 2)
	for i, h := range []types.Handle{lhs, rhs} {
		arg, ok := handleArg(method.Inputs[i].Type, h)
		if !ok {
			return common.Hash{}, NewError(KindConfiguration, name, fmt.Sprintf("%s input %d has type %s, want bytes32 or uint256", op, i, method.Inputs[i].Type), nil)
		}
		args[i] = arg
	}

	started := time.Now()
	defer func() { s.observe(name, started, err) }()

	hash, err := contract.Send(ctx, string(op), args...)
	if err != nil {
		return common.Hash{}, err
	}
	s.logger.Debug(
		"submitted computation",
		log.String("operation", string(op)),
		log.Stringer("txHash", hash),
	)
	return hash, nil
}

func handleArg(t abi.Type, h types.Handle) (any, bool) {
	switch {
	case t.T == abi.FixedBytesTy && t.Size == types.HandleLen:
		return [types.HandleLen]byte(h), true
	case t.T == abi.UintTy && t.Size == 256:
		return h.Big(), true
	default:
		return nil, false
	}
}
