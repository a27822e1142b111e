// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

// Package api exposes a session over JSON HTTP.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/luxfi/log"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/types"
)

const (
	EncryptPath       = "/fhe/encrypt"
	DecryptPath       = "/fhe/decrypt"
	PublicDecryptPath = "/fhe/public-decrypt"
	CanDecryptPath    = "/fhe/can-decrypt"
	ComputePath       = "/fhe/compute"
	KeysPath          = "/keys"
	HealthPath        = "/health"

	refreshOperation = "refresh"

	DefaultRequestTimeout = 30 * time.Second
	maxRequestSize        = 1 << 20
)

// Refresher is implemented by key managers that can force a re-fetch.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type EncryptRequest struct {
	// Value is a JSON number or a decimal or 0x-hex string.
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type"`
}

type EncryptResponse struct {
	Handle     string `json:"handle"`
	Type       string `json:"type"`
	InputProof string `json:"inputProof"`
	Timestamp  int64  `json:"timestamp"`
}

type DecryptRequest struct {
	Handle string `json:"handle"`
	// ContractAddress defaults to the session contract.
	ContractAddress string `json:"contractAddress,omitempty"`
	UserAddress     string `json:"userAddress"`
}

type DecryptResponse struct {
	// Value is a decimal string so that clients never round it.
	Value     string `json:"value"`
	Handle    string `json:"handle"`
	Timestamp int64  `json:"timestamp"`
}

type CanDecryptResponse struct {
	Allowed bool `json:"allowed"`
}

type ComputeRequest struct {
	Operation string   `json:"operation"`
	Operands  []string `json:"operands"`
}

type ComputeResponse struct {
	TxHash    string `json:"txHash"`
	Operation string `json:"operation"`
}

type KeysRequest struct {
	Operation string `json:"operation"`
}

type KeysResponse struct {
	PublicKey string `json:"publicKey"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type Option func(*server)

// WithRefresher enables POST /keys.
func WithRefresher(r Refresher) Option {
	return func(s *server) { s.refresher = r }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *server) { s.timeout = d }
}

type server struct {
	logger    log.Logger
	session   *fhevm.Session
	keys      fhevm.KeyProvider
	refresher Refresher
	timeout   time.Duration
}

// NewHandler returns the routes of the API.
func NewHandler(logger log.Logger, session *fhevm.Session, keys fhevm.KeyProvider, opts ...Option) http.Handler {
	s := &server{
		logger:  logger,
		session: session,
		keys:    keys,
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+EncryptPath, s.handleEncrypt)
	mux.HandleFunc("POST "+DecryptPath, s.handleDecrypt)
	mux.HandleFunc("POST "+PublicDecryptPath, s.handlePublicDecrypt)
	mux.HandleFunc("POST "+CanDecryptPath, s.handleCanDecrypt)
	mux.HandleFunc("POST "+ComputePath, s.handleCompute)
	mux.HandleFunc("GET "+KeysPath, s.handleGetKeys)
	mux.HandleFunc("POST "+KeysPath, s.handleRefreshKeys)
	mux.Handle(HealthPath, newHealthHandler(session, keys))
	return mux
}

func newHealthHandler(session *fhevm.Session, keys fhevm.KeyProvider) http.Handler {
	checker := health.NewChecker(
		health.WithCheck(health.Check{
			Name: "fhevm-session",
			Check: func(context.Context) error {
				if state := session.State(); state != fhevm.StateReady {
					return fmt.Errorf("session %s", state)
				}
				return nil
			},
		}),
		health.WithCheck(health.Check{
			Name: "fhevm-public-key",
			Check: func(ctx context.Context) error {
				_, err := keys.PublicKey(ctx)
				return err
			},
		}),
	)
	return health.NewHandler(checker)
}

func (s *server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req EncryptRequest
	if !s.decode(w, r, &req) {
		return
	}
	typ, err := types.ParseEncryptedType(req.Type)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error(), fhevm.KindValidation.String())
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error(), fhevm.KindValidation.String())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	h, err := fhevm.EncryptValue(ctx, s.session, value, typ)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, EncryptResponse{
		Handle:     h.Handle.Hex(),
		Type:       h.Type.String(),
		InputProof: "0x" + hex.EncodeToString(h.InputProof),
		Timestamp:  h.Timestamp.UnixMilli(),
	})
}

func (s *server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if !s.decode(w, r, &req) {
		return
	}
	handle, ok := s.parseHandle(w, req.Handle)
	if !ok {
		return
	}
	contract := req.ContractAddress
	if contract == "" {
		contract = s.session.Config().ContractAddress
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	v, err := fhevm.DecryptValue(ctx, s.session, handle, contract, req.UserAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, decryptResponse(v))
}

func (s *server) handlePublicDecrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if !s.decode(w, r, &req) {
		return
	}
	handle, ok := s.parseHandle(w, req.Handle)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	v, err := fhevm.PublicDecrypt(ctx, s.session, handle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, decryptResponse(v))
}

func (s *server) handleCanDecrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if !s.decode(w, r, &req) {
		return
	}
	handle, ok := s.parseHandle(w, req.Handle)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	allowed, err := fhevm.CanDecrypt(ctx, s.session, handle, req.UserAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, CanDecryptResponse{Allowed: allowed})
}

func (s *server) handleCompute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Operands) != 2 {
		msg := fmt.Sprintf("want 2 operands, got %d", len(req.Operands))
		s.writeJSONError(w, http.StatusBadRequest, msg, fhevm.KindValidation.String())
		return
	}
	lhs, ok := s.parseHandle(w, req.Operands[0])
	if !ok {
		return
	}
	rhs, ok := s.parseHandle(w, req.Operands[1])
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	op := fhevm.Operation(req.Operation)
	txHash, err := fhevm.Compute(ctx, s.session, op, lhs, rhs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, ComputeResponse{TxHash: txHash.Hex(), Operation: string(op)})
}

func (s *server) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	key, err := s.keys.PublicKey(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, KeysResponse{PublicKey: "0x" + hex.EncodeToString(key)})
}

func (s *server) handleRefreshKeys(w http.ResponseWriter, r *http.Request) {
	var req KeysRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Operation != refreshOperation {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported operation %q", req.Operation), fhevm.KindValidation.String())
		return
	}
	if s.refresher == nil {
		s.writeJSONError(w, http.StatusNotImplemented, "key refresh is not supported", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if err := s.refresher.Refresh(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleGetKeys(w, r)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "Could not decode request body"
		s.logger.Warn(msg, log.Err(err))
		s.writeJSONError(w, http.StatusBadRequest, msg, fhevm.KindValidation.String())
		return false
	}
	return true
}

func (s *server) parseHandle(w http.ResponseWriter, raw string) (types.Handle, bool) {
	handle, err := types.ParseHandle(raw)
	if err != nil || handle.IsZero() {
		msg := fmt.Sprintf("invalid handle %q", raw)
		s.writeJSONError(w, http.StatusBadRequest, msg, fhevm.KindValidation.String())
		return types.Handle{}, false
	}
	return handle, true
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	kind := fhevm.KindOf(err)
	status := StatusCode(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", log.String("kind", kind.String()), log.Err(err))
	}
	s.writeJSONError(w, status, err.Error(), kind.String())
}

func (s *server) writeJSONError(w http.ResponseWriter, status int, msg, kind string) {
	resp, err := json.Marshal(ErrorResponse{Error: msg, Kind: kind})
	if err != nil {
		msg := "Error marshalling JSON error response"
		s.logger.Error(msg, log.Err(err))
		resp = []byte(msg)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(resp); err != nil {
		s.logger.Error("Error writing error response", log.Err(err))
	}
}

func (s *server) writeJSON(w http.ResponseWriter, v any) {
	resp, err := json.Marshal(v)
	if err != nil {
		msg := "Failed to marshal response"
		s.logger.Error(msg, log.Err(err))
		s.writeJSONError(w, http.StatusInternalServerError, msg, "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		s.logger.Error("Error writing response", log.Err(err))
	}
}

// StatusCode maps an error kind to the HTTP status reported for it.
func StatusCode(kind fhevm.ErrorKind) int {
	switch kind {
	case fhevm.KindValidation:
		return http.StatusBadRequest
	case fhevm.KindAuthorization:
		return http.StatusForbidden
	case fhevm.KindConfiguration:
		return http.StatusServiceUnavailable
	case fhevm.KindNetworkFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decryptResponse(v *fhevm.DecryptedValue) DecryptResponse {
	return DecryptResponse{
		Value:     v.Value.String(),
		Handle:    v.Handle.Hex(),
		Timestamp: v.Timestamp.UnixMilli(),
	}
}

var errMissingValue = errors.New("value is required")

// parseValue keeps numeric literals as strings so that they are never
// parsed as floats.
func parseValue(raw json.RawMessage) (string, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return "", errMissingValue
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid value %s", text)
	}
	return n.String(), nil
}
