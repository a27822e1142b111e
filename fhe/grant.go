// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhe

import (
	"math/big"
	"strconv"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/common/math"
	"github.com/luxfi/geth/signer/core/apitypes"
)

const (
	GrantDomainName    = "Decryption"
	GrantDomainVersion = "1"
	GrantPrimaryType   = "UserDecryptRequestVerification"

	secondsPerDay = 24 * 60 * 60
)

// GrantTypedData returns the EIP-712 payload a user signs to request
// decryption of handles held by contract.
func GrantTypedData(chainID uint64, contract common.Address, publicKey []byte, start, durationDays int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			GrantPrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: GrantPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              GrantDomainName,
			Version:           GrantDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(chainID)),
			VerifyingContract: contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(publicKey),
			"contractAddresses": []interface{}{contract.Hex()},
			"startTimestamp":    strconv.FormatInt(start, 10),
			"durationDays":      strconv.FormatInt(durationDays, 10),
		},
	}
}

// GrantHash returns the EIP-712 digest of the grant fields of req.
func GrantHash(chainID uint64, req *UserDecryptRequest) (common.Hash, error) {
	td := GrantTypedData(chainID, req.ContractAddress, req.PublicKey, req.StartTimestamp, req.DurationDays)
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(hash), nil
}

// GrantExpired reports whether a grant starting at start (unix seconds) and
// valid for durationDays is no longer valid at now.
func GrantExpired(now time.Time, start, durationDays int64) bool {
	return now.Unix() >= start+durationDays*secondsPerDay
}
