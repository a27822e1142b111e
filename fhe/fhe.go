// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

// Package fhe defines the boundary to the cryptographic backend that produces
// ciphertexts and resolves plaintexts for the FHE platform. The client layer
// never touches ciphertext material directly; it validates, wraps and
// delegates through Backend.
package fhe

import (
	"context"
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/fhevm/types"
)

var (
	// ErrNotAuthorized is returned when the grant does not prove the caller
	// may read the handle.
	ErrNotAuthorized = errors.New("not authorized to decrypt handle")

	// ErrNotPublic is returned by PublicDecrypt for handles that are not
	// marked publicly decryptable.
	ErrNotPublic = errors.New("handle is not publicly decryptable")

	// ErrUnknownHandle is returned when no ciphertext exists for a handle.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrInvalidCiphertext is returned when stored ciphertext material is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// EncryptRequest is a validated plaintext bound to the contract and user
// that will submit it.
type EncryptRequest struct {
	Type            types.EncryptedType
	Value           *uint256.Int
	ContractAddress common.Address
	UserAddress     common.Address
	ChainID         uint64
}

// EncryptResult identifies the ciphertext created for an EncryptRequest.
type EncryptResult struct {
	Handle types.Handle
	// InputProof is submitted alongside the handle so the contract can
	// verify the input was produced for it.
	InputProof []byte
}

// UserDecryptRequest carries a signed decryption grant.
type UserDecryptRequest struct {
	Handle          types.Handle
	ContractAddress common.Address
	UserAddress     common.Address
	PublicKey       []byte
	StartTimestamp  int64
	DurationDays    int64
	// GrantHash is the EIP-712 digest that Signature commits to.
	GrantHash common.Hash
	Signature []byte
}

// Backend is the external cryptographic provider.
type Backend interface {
	// Encrypt produces a ciphertext for req and returns its handle.
	Encrypt(ctx context.Context, req *EncryptRequest) (*EncryptResult, error)

	// UserDecrypt resolves the plaintext of a handle for a signed grant.
	UserDecrypt(ctx context.Context, req *UserDecryptRequest) (*uint256.Int, error)

	// PublicDecrypt resolves the plaintext of a publicly decryptable handle.
	PublicDecrypt(ctx context.Context, handle types.Handle) (*uint256.Int, error)

	// IsAllowed reports whether user is on the access list of handle.
	IsAllowed(ctx context.Context, handle types.Handle, user common.Address) (bool, error)

	// FetchPublicKey returns the current platform public key.
	FetchPublicKey(ctx context.Context) ([]byte, error)
}

// KeyRotator is implemented by backends that can be asked to rotate the
// platform key material before it is re-fetched.
type KeyRotator interface {
	RotateKeys(ctx context.Context) error
}
