// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/luxfi/crypto"
	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/fhe/memory"
	"github.com/luxfi/fhevm/keys"
	"github.com/luxfi/fhevm/signer"
	"github.com/luxfi/fhevm/types"
)

const (
	testContract = "0x00000000000000000000000000000000000000C0"
	testABI      = `[{"type":"function","name":"add","stateMutability":"nonpayable",
		"inputs":[{"name":"a","type":"bytes32"},{"name":"b","type":"bytes32"}],
		"outputs":[{"name":"","type":"bytes32"}]}]`
)

type chain struct{}

func (chain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (chain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (chain) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (chain) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{}, nil
}

func (chain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (chain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (chain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 21_000, nil }

func (chain) SendTransaction(context.Context, *ethtypes.Transaction) error { return nil }

type failingSource struct{}

func (failingSource) FetchPublicKey(context.Context) ([]byte, error) {
	return nil, errors.New("gateway down")
}

type testServer struct {
	*httptest.Server
	backend *memory.Backend
	user    string
}

func newTestServer(t *testing.T, withSigner bool) *testServer {
	t.Helper()
	require := require.New(t)

	backend, err := memory.New(1, 0)
	require.NoError(err)
	cfg := fhevm.Config{
		ContractAddress: testContract,
		ContractABI:     testABI,
		ChainID:         1,
		Provider:        chain{},
	}
	var user string
	if withSigner {
		key, err := crypto.GenerateKey()
		require.NoError(err)
		ks, err := signer.New(key, chain{})
		require.NoError(err)
		cfg.Signer = ks
		user = ks.Address().Hex()
	}
	manager := keys.NewRefreshableManager(backend)
	session, err := fhevm.Initialize(cfg, fhevm.WithBackend(backend), fhevm.WithKeyProvider(manager))
	require.NoError(err)

	server := httptest.NewServer(NewHandler(log.NewNoOpLogger(), session, manager, WithRefresher(manager)))
	t.Cleanup(server.Close)
	return &testServer{Server: server, backend: backend, user: user}
}

func (s *testServer) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func (s *testServer) encrypt(t *testing.T, body string) EncryptResponse {
	t.Helper()
	var resp EncryptResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, EncryptPath, body, &resp))
	return resp
}

func TestEncryptAndPublicDecrypt(t *testing.T) {
	require := require.New(t)

	s := newTestServer(t, false)
	enc := s.encrypt(t, `{"value": 18446744073709551615, "type": "euint64"}`)
	require.Equal("euint64", enc.Type)
	require.True(strings.HasPrefix(enc.InputProof, "0x"))

	handle, err := types.ParseHandle(enc.Handle)
	require.NoError(err)
	require.NoError(s.backend.MakePublic(handle))

	var dec DecryptResponse
	status := s.do(t, http.MethodPost, PublicDecryptPath, `{"handle":"`+enc.Handle+`"}`, &dec)
	require.Equal(http.StatusOK, status)
	require.Equal("18446744073709551615", dec.Value, "no float rounding")
	require.Equal(enc.Handle, dec.Handle)
}

func TestEncryptValidation(t *testing.T) {
	s := newTestServer(t, false)
	tests := []struct {
		name string
		body string
	}{
		{"out of range", `{"value": 256, "type": "euint8"}`},
		{"unknown type", `{"value": 1, "type": "euint7"}`},
		{"float", `{"value": 1.5, "type": "euint8"}`},
		{"missing value", `{"type": "euint8"}`},
		{"malformed", `{"value":`},
		{"unknown field", `{"value": 1, "type": "euint8", "extra": true}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var resp ErrorResponse
			require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, EncryptPath, test.body, &resp))
			require.Equal(t, fhevm.KindValidation.String(), resp.Kind)
		})
	}
}

func TestEncryptStringValue(t *testing.T) {
	s := newTestServer(t, false)
	enc := s.encrypt(t, `{"value": "0xff", "type": "euint8"}`)
	require.Equal(t, "euint8", enc.Type)
}

func TestDecrypt(t *testing.T) {
	require := require.New(t)

	s := newTestServer(t, true)
	enc := s.encrypt(t, `{"value": "42", "type": "euint32"}`)

	var dec DecryptResponse
	body := `{"handle":"` + enc.Handle + `","userAddress":"` + s.user + `"}`
	require.Equal(http.StatusOK, s.do(t, http.MethodPost, DecryptPath, body, &dec))
	require.Equal("42", dec.Value)

	var allowed CanDecryptResponse
	require.Equal(http.StatusOK, s.do(t, http.MethodPost, CanDecryptPath, body, &allowed))
	require.True(allowed.Allowed)
}

func TestDecryptReadOnlyForbidden(t *testing.T) {
	require := require.New(t)

	s := newTestServer(t, false)
	enc := s.encrypt(t, `{"value": 1, "type": "euint8"}`)

	var resp ErrorResponse
	body := `{"handle":"` + enc.Handle + `","userAddress":"` + testContract + `"}`
	require.Equal(http.StatusForbidden, s.do(t, http.MethodPost, DecryptPath, body, &resp))
	require.Equal(fhevm.KindAuthorization.String(), resp.Kind)
}

func TestDecryptBadInput(t *testing.T) {
	s := newTestServer(t, true)

	var resp ErrorResponse
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, DecryptPath, `{"handle":"0x0","userAddress":"`+s.user+`"}`, &resp))
	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, DecryptPath, `{"handle":"0x01","userAddress":"nope"}`, &resp))
	require.Equal(t, fhevm.KindValidation.String(), resp.Kind)
}

func TestCompute(t *testing.T) {
	require := require.New(t)

	s := newTestServer(t, true)
	a := s.encrypt(t, `{"value": 3, "type": "euint32"}`)
	b := s.encrypt(t, `{"value": 4, "type": "euint32"}`)

	var resp ComputeResponse
	body := `{"operation":"add","operands":["` + a.Handle + `","` + b.Handle + `"]}`
	require.Equal(http.StatusOK, s.do(t, http.MethodPost, ComputePath, body, &resp))
	require.Equal("add", resp.Operation)
	require.True(fhevm.ValidateTxHash(resp.TxHash))
}

func TestComputeBadInput(t *testing.T) {
	s := newTestServer(t, true)
	a := s.encrypt(t, `{"value": 3, "type": "euint32"}`)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"one operand", `{"operation":"add","operands":["` + a.Handle + `"]}`, http.StatusBadRequest},
		{"bad handle", `{"operation":"add","operands":["` + a.Handle + `","0xzz"]}`, http.StatusBadRequest},
		{"unknown operation", `{"operation":"divide","operands":["` + a.Handle + `","` + a.Handle + `"]}`, http.StatusBadRequest},
		{"method not in contract", `{"operation":"multiply","operands":["` + a.Handle + `","` + a.Handle + `"]}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			require.Equal(t, tt.status, s.do(t, http.MethodPost, ComputePath, tt.body, &resp))
			require.NotEmpty(t, resp.Error)
		})
	}
}

func TestComputeReadOnlyForbidden(t *testing.T) {
	s := newTestServer(t, false)
	body := `{"operation":"add","operands":["0x01","0x02"]}`
	require.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, ComputePath, body, nil))
}

func TestKeys(t *testing.T) {
	require := require.New(t)

	s := newTestServer(t, false)

	var before KeysResponse
	require.Equal(http.StatusOK, s.do(t, http.MethodGet, KeysPath, "", &before))
	require.True(strings.HasPrefix(before.PublicKey, "0x"))

	var after KeysResponse
	require.Equal(http.StatusOK, s.do(t, http.MethodPost, KeysPath, `{"operation":"refresh"}`, &after))
	require.NotEqual(before.PublicKey, after.PublicKey, "memory backend rotates on refresh")

	var resp ErrorResponse
	require.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, KeysPath, `{"operation":"delete"}`, &resp))
}

func TestKeysUnavailable(t *testing.T) {
	require := require.New(t)

	backend, err := memory.New(1, 0)
	require.NoError(err)
	session, err := fhevm.Initialize(fhevm.Config{
		ContractAddress: testContract,
		ContractABI:     testABI,
		ChainID:         1,
		Provider:        chain{},
	}, fhevm.WithBackend(backend))
	require.NoError(err)

	manager := keys.NewManager(failingSource{})
	server := httptest.NewServer(NewHandler(log.NewNoOpLogger(), session, manager))
	defer server.Close()

	res, err := server.Client().Get(server.URL + KeysPath)
	require.NoError(err)
	res.Body.Close()
	require.Equal(http.StatusBadGateway, res.StatusCode)

	res, err = server.Client().Post(server.URL+KeysPath, "application/json", bytes.NewBufferString(`{"operation":"refresh"}`))
	require.NoError(err)
	res.Body.Close()
	require.Equal(http.StatusNotImplemented, res.StatusCode)

	res, err = server.Client().Get(server.URL + HealthPath)
	require.NoError(err)
	res.Body.Close()
	require.Equal(http.StatusServiceUnavailable, res.StatusCode)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	res, err := s.Client().Get(s.URL + HealthPath)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestStatusCode(t *testing.T) {
	require := require.New(t)
	require.Equal(http.StatusBadRequest, StatusCode(fhevm.KindValidation))
	require.Equal(http.StatusForbidden, StatusCode(fhevm.KindAuthorization))
	require.Equal(http.StatusServiceUnavailable, StatusCode(fhevm.KindConfiguration))
	require.Equal(http.StatusBadGateway, StatusCode(fhevm.KindNetworkFetch))
	require.Equal(http.StatusInternalServerError, StatusCode(fhevm.KindDecryption))
	require.Equal(http.StatusInternalServerError, StatusCode(fhevm.KindUnknown))
}
