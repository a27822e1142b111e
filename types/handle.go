// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// HandleLen is the size of a handle in bytes.
const HandleLen = 32

var ErrInvalidHandle = errors.New("invalid handle")

// Handle is an opaque 256-bit unsigned integer identifying a ciphertext
// managed by the chain. It is stored big-endian.
type Handle [HandleLen]byte

// HandleFromUint256 converts v into a handle.
func HandleFromUint256(v *uint256.Int) Handle {
	return Handle(v.Bytes32())
}

// HandleFromBig converts v into a handle. v must be non-negative and fit in
// 256 bits.
func HandleFromBig(v *big.Int) (Handle, error) {
	if v == nil || v.Sign() < 0 {
		return Handle{}, fmt.Errorf("%w: negative or nil value", ErrInvalidHandle)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return Handle{}, fmt.Errorf("%w: exceeds 256 bits", ErrInvalidHandle)
	}
	return HandleFromUint256(u), nil
}

// ParseHandle accepts a 0x-prefixed hex string of at most 64 digits or a
// decimal string.
func ParseHandle(s string) (Handle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Handle{}, fmt.Errorf("%w: empty", ErrInvalidHandle)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if len(digits) == 0 || len(digits) > 2*HandleLen {
			return Handle{}, fmt.Errorf("%w: hex length %d", ErrInvalidHandle, len(digits))
		}
		digits = strings.Repeat("0", 2*HandleLen-len(digits)) + digits
		var h Handle
		if _, err := hex.Decode(h[:], []byte(digits)); err != nil {
			return Handle{}, fmt.Errorf("%w: %w", ErrInvalidHandle, err)
		}
		return h, nil
	}
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %w", ErrInvalidHandle, err)
	}
	return HandleFromUint256(u), nil
}

// Uint256 returns the handle as an integer.
func (h Handle) Uint256() *uint256.Int {
	return new(uint256.Int).SetBytes32(h[:])
}

// Big returns the handle as an arbitrary-precision integer.
func (h Handle) Big() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Hex returns the 0x-prefixed, zero-padded hex encoding.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Handle) String() string {
	return h.Hex()
}

// Decimal returns the base-10 encoding.
func (h Handle) Decimal() string {
	return h.Uint256().Dec()
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
