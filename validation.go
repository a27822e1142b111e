// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"math/big"
	"regexp"
	"slices"
	"strings"

	"github.com/holiman/uint256"

	"github.com/luxfi/fhevm/types"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// KnownChainIDs are mainnet and the common public testnets.
var KnownChainIDs = []uint64{1, 3, 4, 5, 42, 11155111}

// The validators below return booleans and never panic. Callers turn a false
// result into a KindValidation or KindConfiguration error.

// ValidateAddress reports whether s is a 0x-prefixed 40 hex digit address.
func ValidateAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ValidateTxHash reports whether s is a 0x-prefixed 64 hex digit hash.
func ValidateTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// ValidateChainID reports whether id is positive and, if allowed is not
// empty, a member of allowed.
func ValidateChainID(id uint64, allowed ...uint64) bool {
	if id == 0 {
		return false
	}
	return len(allowed) == 0 || slices.Contains(allowed, id)
}

// ValidateNumericValue reports whether value lies in the plaintext range of t.
// value may be any Go integer type, *big.Int, *uint256.Int, or a decimal or
// 0x-prefixed hex string. Conversion never goes through floating point.
func ValidateNumericValue(value any, t types.EncryptedType) bool {
	v, ok := toBig(value)
	if !ok {
		return false
	}
	return t.ContainsBig(v)
}

// ValidateUintRange reports whether min <= value <= max. All three accept
// the same representations as ValidateNumericValue.
func ValidateUintRange(value, min, max any) bool {
	v, ok := toBig(value)
	if !ok {
		return false
	}
	lo, ok := toBig(min)
	if !ok {
		return false
	}
	hi, ok := toBig(max)
	if !ok {
		return false
	}
	return v.Cmp(lo) >= 0 && v.Cmp(hi) <= 0
}

// IsValidHandle reports whether value is a positive integer that fits in a
// handle.
func IsValidHandle(value any) bool {
	if h, ok := value.(types.Handle); ok {
		return !h.IsZero()
	}
	v, ok := toBig(value)
	if !ok {
		return false
	}
	return v.Sign() > 0 && v.BitLen() <= 8*types.HandleLen
}

// toBig coerces the supported integer representations to a new *big.Int.
func toBig(value any) (*big.Int, bool) {
	switch v := value.(type) {
	case int:
		return big.NewInt(int64(v)), true
	case int8:
		return big.NewInt(int64(v)), true
	case int16:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	case uint:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case *big.Int:
		if v == nil {
			return nil, false
		}
		return new(big.Int).Set(v), true
	case big.Int:
		return new(big.Int).Set(&v), true
	case *uint256.Int:
		if v == nil {
			return nil, false
		}
		return v.ToBig(), true
	case uint256.Int:
		return v.ToBig(), true
	case string:
		return parseBigString(v)
	default:
		return nil, false
	}
}

func parseBigString(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	// SetString accepts underscores for base 0 only; a fixed base keeps
	// inputs strict.
	return new(big.Int).SetString(s, base)
}
