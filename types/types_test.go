// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestEncryptedTypeRanges(t *testing.T) {
	tests := []struct {
		typ  EncryptedType
		name string
		bits uint
	}{
		{Euint8, "euint8", 8},
		{Euint16, "euint16", 16},
		{Euint32, "euint32", 32},
		{Euint64, "euint64", 64},
		{Euint128, "euint128", 128},
		{Euint256, "euint256", 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			require.True(tt.typ.Valid())
			require.Equal(tt.name, tt.typ.String())
			require.Equal(tt.bits, tt.typ.Bits())

			want := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), tt.bits), big.NewInt(1))
			require.Zero(want.Cmp(tt.typ.Max().ToBig()))

			require.True(tt.typ.ContainsBig(big.NewInt(0)))
			require.True(tt.typ.ContainsBig(want))
			require.False(tt.typ.ContainsBig(new(big.Int).Add(want, big.NewInt(1))))
			require.False(tt.typ.ContainsBig(big.NewInt(-1)))

			require.True(tt.typ.Contains(tt.typ.Max()))

			parsed, err := ParseEncryptedType(tt.name)
			require.NoError(err)
			require.Equal(tt.typ, parsed)
		})
	}
}

func TestMaxReturnsCopy(t *testing.T) {
	m := Euint8.Max()
	m.AddUint64(m, 1)
	require.Equal(t, uint64(255), Euint8.Max().Uint64())
}

func TestInvalidEncryptedType(t *testing.T) {
	require := require.New(t)

	var zero EncryptedType
	require.False(zero.Valid())
	require.False(EncryptedType(42).Valid())
	require.False(EncryptedType(42).Contains(uint256.NewInt(0)))
	require.Zero(EncryptedType(42).Bits())

	_, err := ParseEncryptedType("euint7")
	require.ErrorIs(err, ErrUnknownType)

	parsed, err := ParseEncryptedType(" EUINT64 ")
	require.NoError(err)
	require.Equal(Euint64, parsed)
}

func TestEncryptedTypeJSON(t *testing.T) {
	require := require.New(t)

	b, err := json.Marshal(struct {
		Type EncryptedType `json:"type"`
	}{Euint32})
	require.NoError(err)
	require.JSONEq(`{"type":"euint32"}`, string(b))

	var out struct {
		Type EncryptedType `json:"type"`
	}
	require.NoError(json.Unmarshal([]byte(`{"type":"euint128"}`), &out))
	require.Equal(Euint128, out.Type)
	require.Error(json.Unmarshal([]byte(`{"type":"ebool"}`), &out))
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr bool
	}{
		{name: "decimal", input: "12345", want: 12345},
		{name: "short hex", input: "0x3039", want: 12345},
		{name: "padded hex", input: "0x0000000000000000000000000000000000000000000000000000000000003039", want: 12345},
		{name: "empty", input: "", wantErr: true},
		{name: "bare prefix", input: "0x", wantErr: true},
		{name: "too long", input: "0x1" + string(make([]byte, 64)), wantErr: true},
		{name: "not a number", input: "abc", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseHandle(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidHandle)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, h.Uint256().Uint64())
		})
	}
}

func TestHandleEncodings(t *testing.T) {
	require := require.New(t)

	big256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	h, err := HandleFromBig(big256)
	require.NoError(err)
	require.Zero(big256.Cmp(h.Big()))
	require.Equal(big256.String(), h.Decimal())

	reparsed, err := ParseHandle(h.Hex())
	require.NoError(err)
	require.Equal(h, reparsed)

	_, err = HandleFromBig(new(big.Int).Lsh(big.NewInt(1), 256))
	require.ErrorIs(err, ErrInvalidHandle)
	_, err = HandleFromBig(big.NewInt(-5))
	require.ErrorIs(err, ErrInvalidHandle)

	require.True(Handle{}.IsZero())
	require.False(h.IsZero())

	var out struct {
		Handle Handle `json:"handle"`
	}
	require.NoError(json.Unmarshal([]byte(`{"handle":"42"}`), &out))
	require.Equal(uint64(42), out.Handle.Uint256().Uint64())
}
