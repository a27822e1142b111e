// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/rlp"
	"github.com/luxfi/geth/signer/core/apitypes"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/fhevm/fhe"
)

// grantTimeout bounds a signature request shared by concurrent decryptions.
const grantTimeout = 2 * time.Minute

// Grant is a signed authorization proving the signer controls UserAddress
// and may decrypt handles of ContractAddress under PublicKey.
type Grant struct {
	ID              ids.ID
	ContractAddress common.Address
	UserAddress     common.Address
	PublicKey       []byte
	StartTimestamp  int64
	DurationDays    int64
	// Hash is the EIP-712 digest of the grant.
	Hash      common.Hash
	Signature []byte
}

// Expired reports whether the grant is no longer valid at now.
func (g *Grant) Expired(now time.Time) bool {
	return fhe.GrantExpired(now, g.StartTimestamp, g.DurationDays)
}

func grantID(contract, user common.Address, publicKey []byte) (ids.ID, error) {
	b, err := rlp.EncodeToBytes([]interface{}{contract, user, publicKey})
	if err != nil {
		return ids.Empty, err
	}
	var id ids.ID
	copy(id[:], crypto.Keccak256(b))
	return id, nil
}

// grant returns a valid cached grant for (contract, user, current public
// key) or signs a new one. Concurrent requests for the same grant share one
// signature request, which does not fail when the caller that started it
// goes away.
func (s *Session) grant(ctx context.Context, op string, contract, user common.Address) (*Grant, error) {
	publicKey, err := s.keys.PublicKey(ctx)
	if err != nil {
		return nil, NewError(KindDecryption, op, "failed to fetch public key", err)
	}
	id, err := grantID(contract, user, publicKey)
	if err != nil {
		return nil, NewError(KindDecryption, op, "failed to derive grant ID", err)
	}

	if g := s.cachedGrant(id); g != nil {
		return g, nil
	}

	ch := s.grantGroup.DoChan(id.String(), func() (interface{}, error) {
		if g := s.cachedGrant(id); g != nil {
			return g, nil
		}
		signCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grantTimeout)
		defer cancel()
		return s.signGrant(signCtx, op, id, contract, user, publicKey)
	})
	select {
	case <-ctx.Done():
		return nil, NewError(KindDecryption, op, "canceled while waiting for decryption grant", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Grant), nil
	}
}

func (s *Session) signGrant(ctx context.Context, op string, id ids.ID, contract, user common.Address, publicKey []byte) (*Grant, error) {
	start := s.now().Unix()
	td := fhe.GrantTypedData(s.cfg.ChainID, contract, publicKey, start, s.grantDays)
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, NewError(KindAuthorization, op, "failed to encode decryption grant", err)
	}
	sig, err := s.Signer().SignTypedData(ctx, td)
	if err != nil {
		return nil, NewError(KindAuthorization, op, "failed to sign decryption grant", err)
	}
	g := &Grant{
		ID:              id,
		ContractAddress: contract,
		UserAddress:     user,
		PublicKey:       publicKey,
		StartTimestamp:  start,
		DurationDays:    s.grantDays,
		Hash:            common.BytesToHash(hash),
		Signature:       sig,
	}
	s.grantsLock.Lock()
	s.grants[id] = g
	s.grantsLock.Unlock()
	s.logger.Debug(
		"signed decryption grant",
		log.Stringer("grantID", id),
		log.Stringer("contract", contract),
	)
	return g, nil
}

func (s *Session) cachedGrant(id ids.ID) *Grant {
	s.grantsLock.Lock()
	defer s.grantsLock.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return nil
	}
	if g.Expired(s.now()) {
		delete(s.grants, id)
		return nil
	}
	return g
}

func (s *Session) dropGrant(id ids.ID) {
	s.grantsLock.Lock()
	delete(s.grants, id)
	s.grantsLock.Unlock()
}
