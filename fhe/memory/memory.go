// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

// Package memory is an in-process fhe.Backend for development and tests.
//
// It keeps plaintexts in a sealed envelope keyed by handle, enforces an access
// list per handle and verifies the EIP-712 grant signature on user
// decryption. It provides no confidentiality.
package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/math/set"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/luxfi/fhevm/fhe"
	"github.com/luxfi/fhevm/types"
)

const (
	DefaultCapacity = 4096

	handleVersion = 0
	signatureLen  = 65

	// MaxClockSkew is how far in the future a grant may start.
	MaxClockSkew = 5 * time.Minute
)

var (
	_ fhe.Backend    = (*Backend)(nil)
	_ fhe.KeyRotator = (*Backend)(nil)
)

// envelope is the stored ciphertext material.
type envelope struct {
	Type     uint8  `msgpack:"t"`
	Value    []byte `msgpack:"v"`
	Contract []byte `msgpack:"c"`
	Nonce    uint64 `msgpack:"n"`
}

type Option func(*Backend)

// WithClock sets the time source used to check grant validity.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

type Backend struct {
	chainID uint64
	now     func() time.Time

	// ciphertexts is bounded; evicted handles become unknown.
	ciphertexts *lru.Cache[types.Handle, []byte]

	lock       sync.RWMutex
	acl        map[types.Handle]set.Set[common.Address]
	public     set.Set[types.Handle]
	nonce      uint64
	keyVersion uint64
	publicKey  []byte
}

// New returns a backend holding at most capacity ciphertexts. Evicting a
// ciphertext also drops its access list and public flag.
func New(chainID uint64, capacity int, opts ...Option) (*Backend, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Backend{
		chainID: chainID,
		now:     time.Now,
		acl:     make(map[types.Handle]set.Set[common.Address]),
		public:  set.NewSet[types.Handle](capacity),
	}
	cache, err := lru.NewWithEvict[types.Handle, []byte](capacity, b.evicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create ciphertext store: %w", err)
	}
	b.ciphertexts = cache
	for _, opt := range opts {
		opt(b)
	}
	b.publicKey = deriveKey(chainID, 0)
	return b, nil
}

func (b *Backend) Encrypt(_ context.Context, req *fhe.EncryptRequest) (*fhe.EncryptResult, error) {
	if !req.Type.Valid() || req.Value == nil || !req.Type.Contains(req.Value) {
		return nil, fmt.Errorf("%w: value out of range for %s", fhe.ErrInvalidCiphertext, req.Type)
	}

	b.lock.Lock()
	b.nonce++
	nonce := b.nonce
	b.lock.Unlock()

	value := req.Value.Bytes32()
	sealed, err := msgpack.Marshal(&envelope{
		Type:     uint8(req.Type),
		Value:    value[:],
		Contract: req.ContractAddress.Bytes(),
		Nonce:    nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seal ciphertext: %w", err)
	}
	handle := newHandle(sealed, req.Type, b.chainID)

	// The access list is written first so that an eviction of handle, which
	// can only follow the Add below, always finds it.
	b.lock.Lock()
	allowed := set.Of(req.ContractAddress)
	if req.UserAddress != (common.Address{}) {
		allowed.Add(req.UserAddress)
	}
	b.acl[handle] = allowed
	b.lock.Unlock()

	b.ciphertexts.Add(handle, sealed)

	return &fhe.EncryptResult{
		Handle:     handle,
		InputProof: crypto.Keccak256(handle[:], req.ContractAddress.Bytes(), req.UserAddress.Bytes()),
	}, nil
}

func (b *Backend) UserDecrypt(_ context.Context, req *fhe.UserDecryptRequest) (*uint256.Int, error) {
	if err := b.verifyGrant(req); err != nil {
		return nil, err
	}

	b.lock.RLock()
	currentKey := b.publicKey
	allowed := b.acl[req.Handle]
	b.lock.RUnlock()

	if !bytes.Equal(req.PublicKey, currentKey) {
		return nil, fmt.Errorf("%w: grant issued for a rotated key", fhe.ErrNotAuthorized)
	}
	if !allowed.Contains(req.UserAddress) || !allowed.Contains(req.ContractAddress) {
		return nil, fmt.Errorf("%w: %s", fhe.ErrNotAuthorized, req.Handle)
	}
	return b.open(req.Handle)
}

func (b *Backend) PublicDecrypt(_ context.Context, handle types.Handle) (*uint256.Int, error) {
	b.lock.RLock()
	public := b.public.Contains(handle)
	b.lock.RUnlock()
	if !public {
		if !b.ciphertexts.Contains(handle) {
			return nil, fmt.Errorf("%w: %s", fhe.ErrUnknownHandle, handle)
		}
		return nil, fmt.Errorf("%w: %s", fhe.ErrNotPublic, handle)
	}
	return b.open(handle)
}

func (b *Backend) IsAllowed(_ context.Context, handle types.Handle, user common.Address) (bool, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.acl[handle].Contains(user), nil
}

func (b *Backend) FetchPublicKey(context.Context) ([]byte, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return append([]byte(nil), b.publicKey...), nil
}

// RotateKeys replaces the public key. Grants signed for the previous key are
// rejected afterwards.
func (b *Backend) RotateKeys(context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.keyVersion++
	b.publicKey = deriveKey(b.chainID, b.keyVersion)
	return nil
}

// Allow adds user to the access list of handle, as an on-chain
// FHE.allow call would.
func (b *Backend) Allow(handle types.Handle, user common.Address) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.ciphertexts.Contains(handle) {
		return fmt.Errorf("%w: %s", fhe.ErrUnknownHandle, handle)
	}
	allowed := b.acl[handle]
	allowed.Add(user)
	b.acl[handle] = allowed
	return nil
}

// MakePublic marks handle publicly decryptable.
func (b *Backend) MakePublic(handle types.Handle) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.ciphertexts.Contains(handle) {
		return fmt.Errorf("%w: %s", fhe.ErrUnknownHandle, handle)
	}
	b.public.Add(handle)
	return nil
}

// verifyGrant checks that req carries an unexpired grant for the current
// public key, signed by req.UserAddress over the digest of its own fields.
func (b *Backend) verifyGrant(req *fhe.UserDecryptRequest) error {
	if len(req.Signature) != signatureLen {
		return fmt.Errorf("%w: malformed signature", fhe.ErrNotAuthorized)
	}
	if req.DurationDays <= 0 {
		return fmt.Errorf("%w: grant duration must be positive", fhe.ErrNotAuthorized)
	}
	now := b.now()
	if time.Unix(req.StartTimestamp, 0).After(now.Add(MaxClockSkew)) {
		return fmt.Errorf("%w: grant starts in the future", fhe.ErrNotAuthorized)
	}
	if fhe.GrantExpired(now, req.StartTimestamp, req.DurationDays) {
		return fmt.Errorf("%w: grant expired", fhe.ErrNotAuthorized)
	}

	hash, err := fhe.GrantHash(b.chainID, req)
	if err != nil {
		return fmt.Errorf("%w: %w", fhe.ErrNotAuthorized, err)
	}
	if hash != req.GrantHash {
		return fmt.Errorf("%w: grant digest does not match its fields", fhe.ErrNotAuthorized)
	}

	sig := append([]byte(nil), req.Signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return fmt.Errorf("%w: %w", fhe.ErrNotAuthorized, err)
	}
	if common.Address(crypto.PubkeyToAddress(*pub)) != req.UserAddress {
		return fmt.Errorf("%w: grant not signed by %s", fhe.ErrNotAuthorized, req.UserAddress)
	}
	return nil
}

// evicted drops the access state of a ciphertext pushed out of the store.
func (b *Backend) evicted(handle types.Handle, _ []byte) {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.acl, handle)
	b.public.Remove(handle)
}

func (b *Backend) open(handle types.Handle) (*uint256.Int, error) {
	sealed, ok := b.ciphertexts.Get(handle)
	if !ok {
		return nil, fmt.Errorf("%w: %s", fhe.ErrUnknownHandle, handle)
	}
	var env envelope
	if err := msgpack.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", fhe.ErrInvalidCiphertext, err)
	}
	if len(env.Value) != 32 {
		return nil, fmt.Errorf("%w: value length %d", fhe.ErrInvalidCiphertext, len(env.Value))
	}
	return new(uint256.Int).SetBytes32(env.Value), nil
}

// newHandle lays out a handle as keccak(sealed)[0:22] || chainID (8 bytes)
// || type || version.
func newHandle(sealed []byte, t types.EncryptedType, chainID uint64) types.Handle {
	var h types.Handle
	digest := crypto.Keccak256(sealed)
	copy(h[:22], digest)
	binary.BigEndian.PutUint64(h[22:30], chainID)
	h[30] = byte(t)
	h[31] = handleVersion
	return h
}

func deriveKey(chainID, version uint64) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], chainID)
	binary.BigEndian.PutUint64(buf[8:], version)
	return crypto.Keccak256([]byte("fhevm/memory/public-key"), buf[:])
}
