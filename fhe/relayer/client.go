// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

// Package relayer implements fhe.Backend against a remote FHE relayer over
// HTTP.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/log"

	"github.com/luxfi/fhevm/fhe"
	"github.com/luxfi/fhevm/types"
	"github.com/luxfi/fhevm/utils"
)

const (
	InputProofPath    = "/v1/input-proof"
	UserDecryptPath   = "/v1/user-decrypt"
	PublicDecryptPath = "/v1/public-decrypt"
	ACLPath           = "/v1/acl"
	KeyPath           = "/v1/keys"
	RotateKeysPath    = "/v1/keys/rotate"

	DefaultRequestTimeout = 10 * time.Second
	DefaultRetryTimeout   = 30 * time.Second

	maxResponseSize = 4 << 20
)

var (
	_ fhe.Backend    = (*Client)(nil)
	_ fhe.KeyRotator = (*Client)(nil)

	errUnexpectedStatus = errors.New("unexpected relayer status")
)

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(r *Client) { r.http = c }
}

func WithLogger(logger log.Logger) Option {
	return func(r *Client) { r.logger = logger }
}

// WithRetryTimeout bounds the total time spent retrying one call. Zero
// disables retries.
func WithRetryTimeout(d time.Duration) Option {
	return func(r *Client) { r.retryTimeout = d }
}

func WithAPIKey(key string) Option {
	return func(r *Client) { r.apiKey = key }
}

type Client struct {
	baseURL      string
	http         *http.Client
	logger       log.Logger
	retryTimeout time.Duration
	apiKey       string
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid relayer url scheme %q", u.Scheme)
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: DefaultRequestTimeout},
		logger:       log.NewNoOpLogger(),
		retryTimeout: DefaultRetryTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type inputProofRequest struct {
	Type            types.EncryptedType `json:"type"`
	Value           string              `json:"value"`
	ContractAddress common.Address      `json:"contractAddress"`
	UserAddress     common.Address      `json:"userAddress"`
	ChainID         uint64              `json:"chainId"`
}

type inputProofResponse struct {
	Handle     types.Handle  `json:"handle"`
	InputProof hexutil.Bytes `json:"inputProof"`
}

type userDecryptRequest struct {
	Handle          types.Handle   `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
	UserAddress     common.Address `json:"userAddress"`
	PublicKey       hexutil.Bytes  `json:"publicKey"`
	StartTimestamp  int64          `json:"startTimestamp"`
	DurationDays    int64          `json:"durationDays"`
	GrantHash       common.Hash    `json:"grantHash"`
	Signature       hexutil.Bytes  `json:"signature"`
}

type publicDecryptRequest struct {
	Handle types.Handle `json:"handle"`
}

type decryptResponse struct {
	Value string `json:"value"`
}

type aclResponse struct {
	Allowed bool `json:"allowed"`
}

type keyResponse struct {
	PublicKey hexutil.Bytes `json:"publicKey"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) Encrypt(ctx context.Context, req *fhe.EncryptRequest) (*fhe.EncryptResult, error) {
	if req.Value == nil {
		return nil, fmt.Errorf("%w: missing value", fhe.ErrInvalidCiphertext)
	}
	var resp inputProofResponse
	err := c.do(ctx, http.MethodPost, InputProofPath, &inputProofRequest{
		Type:            req.Type,
		Value:           req.Value.Dec(),
		ContractAddress: req.ContractAddress,
		UserAddress:     req.UserAddress,
		ChainID:         req.ChainID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &fhe.EncryptResult{Handle: resp.Handle, InputProof: resp.InputProof}, nil
}

func (c *Client) UserDecrypt(ctx context.Context, req *fhe.UserDecryptRequest) (*uint256.Int, error) {
	var resp decryptResponse
	err := c.do(ctx, http.MethodPost, UserDecryptPath, &userDecryptRequest{
		Handle:          req.Handle,
		ContractAddress: req.ContractAddress,
		UserAddress:     req.UserAddress,
		PublicKey:       req.PublicKey,
		StartTimestamp:  req.StartTimestamp,
		DurationDays:    req.DurationDays,
		GrantHash:       req.GrantHash,
		Signature:       req.Signature,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return parseValue(resp.Value)
}

func (c *Client) PublicDecrypt(ctx context.Context, handle types.Handle) (*uint256.Int, error) {
	var resp decryptResponse
	if err := c.do(ctx, http.MethodPost, PublicDecryptPath, &publicDecryptRequest{Handle: handle}, &resp); err != nil {
		return nil, err
	}
	return parseValue(resp.Value)
}

func (c *Client) IsAllowed(ctx context.Context, handle types.Handle, user common.Address) (bool, error) {
	q := url.Values{}
	q.Set("handle", handle.Hex())
	q.Set("user", user.Hex())
	var resp aclResponse
	if err := c.do(ctx, http.MethodGet, ACLPath+"?"+q.Encode(), nil, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

func (c *Client) FetchPublicKey(ctx context.Context) ([]byte, error) {
	var resp keyResponse
	if err := c.do(ctx, http.MethodGet, KeyPath, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.PublicKey) == 0 {
		return nil, errors.New("relayer returned an empty public key")
	}
	return resp.PublicKey, nil
}

func (c *Client) RotateKeys(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, RotateKeysPath, struct{}{}, nil)
}

// do sends one JSON request, retrying transport failures and 5xx responses
// on retryable paths. 4xx responses are returned without retrying.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	operation := func() error {
		return c.roundTrip(ctx, method, path, body, out)
	}
	if c.retryTimeout <= 0 || !retryable(path) {
		return unwrapPermanent(operation())
	}
	return unwrapPermanent(utils.WithRetriesTimeout(ctx, c.logger, operation, c.retryTimeout, method+" "+path))
}

// retryable reports whether a request to path may be sent again. Input
// proofs and key rotations change relayer state and are sent once.
func retryable(path string) bool {
	return path != InputProofPath && path != RotateKeysPath
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return err
	}
	if res.StatusCode/100 != 2 {
		statusErr := statusError(res.StatusCode, payload)
		if res.StatusCode >= 500 {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode relayer response: %w", err))
	}
	return nil
}

func statusError(code int, payload []byte) error {
	msg := strings.TrimSpace(string(payload))
	var e errorResponse
	if json.Unmarshal(payload, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	var sentinel error
	switch code {
	case http.StatusForbidden, http.StatusUnauthorized:
		sentinel = fhe.ErrNotAuthorized
	case http.StatusNotFound:
		sentinel = fhe.ErrUnknownHandle
	case http.StatusConflict:
		sentinel = fhe.ErrNotPublic
	case http.StatusUnprocessableEntity:
		sentinel = fhe.ErrInvalidCiphertext
	default:
		sentinel = errUnexpectedStatus
	}
	return fmt.Errorf("%w (status %d): %s", sentinel, code, msg)
}

func unwrapPermanent(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func parseValue(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad plaintext %q: %w", fhe.ErrInvalidCiphertext, s, err)
	}
	return v, nil
}
