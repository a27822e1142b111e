// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

// Package keys caches the platform public key.
//
// Manager only reads the key. RefreshableManager adds Refresh, so code that
// needs to rotate keys states that requirement in its parameter types.
package keys

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/metrics"
)

var ErrNotLoaded = errors.New("public key not loaded")

var (
	_ fhevm.KeyProvider = (*Manager)(nil)
	_ fhevm.KeyProvider = (*RefreshableManager)(nil)
)

// Source fetches the current platform public key. fhe.Backend satisfies it.
type Source interface {
	FetchPublicKey(ctx context.Context) ([]byte, error)
}

// Rotator is implemented by sources that can rotate key material on request.
type Rotator interface {
	RotateKeys(ctx context.Context) error
}

type Option func(*Manager)

// WithTTL expires the cached key after ttl. Zero keeps it until refreshed.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.cache.ttl = ttl }
}

func WithLogger(logger log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.cache.now = now }
}

// Manager returns the cached public key, fetching it once on first use.
type Manager struct {
	src     Source
	cache   *keyCache
	logger  log.Logger
	metrics *metrics.Metrics
}

func NewManager(src Source, opts ...Option) *Manager {
	m := &Manager{
		src:    src,
		cache:  newKeyCache(0),
		logger: log.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PublicKey returns the cached key, or performs exactly one fetch shared by
// all concurrent callers and caches its result.
func (m *Manager) PublicKey(ctx context.Context) ([]byte, error) {
	key, err := m.cache.get(ctx, m.fetch)
	if err != nil {
		return nil, fhevm.NewError(fhevm.KindNetworkFetch, "PublicKey", "failed to fetch public key", err)
	}
	return key, nil
}

// PublicKeyHex returns the hex encoding of the cached key without fetching.
func (m *Manager) PublicKeyHex() (string, error) {
	key, _, ok := m.cache.peek()
	if !ok {
		return "", ErrNotLoaded
	}
	return hex.EncodeToString(key), nil
}

// Validate reports whether a non-empty key can be obtained.
func (m *Manager) Validate(ctx context.Context) bool {
	key, err := m.PublicKey(ctx)
	return err == nil && len(key) > 0
}

func (m *Manager) fetch(ctx context.Context) ([]byte, error) {
	m.metrics.KeyFetched()
	key, err := m.src.FetchPublicKey(ctx)
	if err != nil {
		m.logger.Warn("public key fetch failed", log.Err(err))
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("source returned an empty key")
	}
	m.logger.Debug("fetched public key", log.Int("size", len(key)))
	return key, nil
}

// RefreshableManager is a Manager that can force a re-fetch.
type RefreshableManager struct {
	*Manager
}

func NewRefreshableManager(src Source, opts ...Option) *RefreshableManager {
	return &RefreshableManager{Manager: NewManager(src, opts...)}
}

// Refresh drops the cached key, asks the source to rotate if it can, and
// fetches again. If any step fails the cache stays empty; the old key is
// never served again.
func (m *RefreshableManager) Refresh(ctx context.Context) error {
	const op = "RefreshKeys"
	m.cache.invalidate()
	m.metrics.KeyRefreshed()

	if rotator, ok := m.src.(Rotator); ok {
		if err := rotator.RotateKeys(ctx); err != nil {
			return fhevm.NewError(fhevm.KindNetworkFetch, op, "failed to rotate keys", err)
		}
		// Drop anything fetched by concurrent readers while rotating.
		m.cache.invalidate()
	}
	if _, err := m.cache.get(ctx, m.fetch); err != nil {
		return fhevm.NewError(fhevm.KindNetworkFetch, op, "failed to fetch public key", err)
	}
	m.logger.Info("public key refreshed")
	return nil
}
