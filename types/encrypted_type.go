// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

// Package types defines the encrypted integer types understood by the FHE
// platform and the opaque handles that reference ciphertexts on-chain.
// The set of types is closed and fixed at package initialization.
package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// EncryptedType is the declared bit width of an encrypted unsigned integer.
type EncryptedType uint8

const (
	Euint8 EncryptedType = iota + 1
	Euint16
	Euint32
	Euint64
	Euint128
	Euint256
)

var ErrUnknownType = errors.New("unknown encrypted type")

type typeInfo struct {
	name string
	bits uint
	max  uint256.Int
}

var (
	typeInfos = [...]typeInfo{
		Euint8:   {name: "euint8", bits: 8},
		Euint16:  {name: "euint16", bits: 16},
		Euint32:  {name: "euint32", bits: 32},
		Euint64:  {name: "euint64", bits: 64},
		Euint128: {name: "euint128", bits: 128},
		Euint256: {name: "euint256", bits: 256},
	}
	typesByName = make(map[string]EncryptedType, len(typeInfos))
)

func init() {
	for i := range typeInfos {
		info := &typeInfos[i]
		if info.bits == 0 {
			continue
		}
		// 2^bits - 1
		info.max.SetAllOne()
		info.max.Rsh(&info.max, 256-info.bits)
		typesByName[info.name] = EncryptedType(i)
	}
}

// AllTypes returns every encrypted type, narrowest first.
func AllTypes() []EncryptedType {
	return []EncryptedType{Euint8, Euint16, Euint32, Euint64, Euint128, Euint256}
}

// ParseEncryptedType resolves a tag such as "euint32". Matching is case-insensitive.
func ParseEncryptedType(s string) (EncryptedType, error) {
	t, ok := typesByName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w %q: must be one of %s", ErrUnknownType, s, strings.Join(TypeNames(), ", "))
	}
	return t, nil
}

// TypeNames returns the tags of all encrypted types, narrowest first.
func TypeNames() []string {
	all := AllTypes()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.String()
	}
	return names
}

// Valid reports whether t is a member of the enumeration.
func (t EncryptedType) Valid() bool {
	return t >= Euint8 && t <= Euint256
}

func (t EncryptedType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("EncryptedType(%d)", uint8(t))
	}
	return typeInfos[t].name
}

// Bits returns the bit width of t, or 0 if t is not valid.
func (t EncryptedType) Bits() uint {
	if !t.Valid() {
		return 0
	}
	return typeInfos[t].bits
}

// Max returns the largest plaintext representable by t. The returned value
// is a copy and may be modified by the caller.
func (t EncryptedType) Max() *uint256.Int {
	if !t.Valid() {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(&typeInfos[t].max)
}

// Contains reports whether v lies in [0, 2^Bits()-1].
func (t EncryptedType) Contains(v *uint256.Int) bool {
	if !t.Valid() || v == nil {
		return false
	}
	return !v.Gt(&typeInfos[t].max)
}

// ContainsBig is Contains for arbitrary-precision input. Negative values are
// never contained.
func (t EncryptedType) ContainsBig(v *big.Int) bool {
	if !t.Valid() || v == nil || v.Sign() < 0 {
		return false
	}
	return uint(v.BitLen()) <= typeInfos[t].bits
}

func (t EncryptedType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *EncryptedType) UnmarshalText(text []byte) error {
	parsed, err := ParseEncryptedType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
