// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"golang.org/x/sync/singleflight"

	"github.com/luxfi/fhevm/fhe"
	"github.com/luxfi/fhevm/metrics"
)

const (
	defaultBatchConcurrency  = 16
	defaultGrantDurationDays = 10
)

// State is the lifecycle state of a Session.
type State uint8

const (
	StateUninitialized State = iota
	StateInitializing
	// StateReady is terminal. The session is immutable from here on.
	StateReady
	// StateFailed is terminal. A new session must be constructed to retry.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Option configures a Session.
type Option func(*Session)

// WithBackend sets the cryptographic backend. It is required.
func WithBackend(b fhe.Backend) Option {
	return func(s *Session) { s.backend = b }
}

// WithKeyProvider sets the source of the platform public key used in
// decryption grants. Defaults to an uncached fetch from the backend.
func WithKeyProvider(k KeyProvider) Option {
	return func(s *Session) { s.keys = k }
}

func WithLogger(logger log.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithBatchConcurrency bounds the number of in-flight backend calls per
// batch. Values below 1 mean unbounded.
func WithBatchConcurrency(n int) Option {
	return func(s *Session) { s.batchLimit = n }
}

// WithGrantDuration sets how long a signed decryption grant stays valid.
func WithGrantDuration(days int64) Option {
	return func(s *Session) { s.grantDays = days }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session owns the resolved chain connection and contract reference for one
// application context. It is populated exactly once by Initialize.
type Session struct {
	cfg        Config
	backend    fhe.Backend
	keys       KeyProvider
	logger     log.Logger
	metrics    *metrics.Metrics
	batchLimit int
	grantDays  int64
	now        func() time.Time

	once sync.Once

	lock     sync.RWMutex
	state    State
	err      error
	provider Provider
	signer   Signer
	contract *Contract

	grantsLock sync.Mutex
	grants     map[ids.ID]*Grant
	grantGroup singleflight.Group
}

// NewSession returns an uninitialized session for cfg.
func NewSession(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg,
		logger:     log.NewNoOpLogger(),
		batchLimit: defaultBatchConcurrency,
		grantDays:  defaultGrantDurationDays,
		now:        time.Now,
		grants:     make(map[ids.ID]*Grant),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize constructs and initializes a session in one step.
func Initialize(cfg Config, opts ...Option) (*Session, error) {
	s := NewSession(cfg, opts...)
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize validates the configuration, resolves the connection and binds
// the contract. It runs at most once; concurrent and later callers observe
// the same terminal outcome.
func (s *Session) Initialize() error {
	s.once.Do(func() {
		s.lock.Lock()
		s.state = StateInitializing
		s.lock.Unlock()

		r, err := s.resolve()

		s.lock.Lock()
		defer s.lock.Unlock()
		if err != nil {
			s.state = StateFailed
			s.err = err
			s.logger.Warn("session initialization failed", log.Err(err))
			return
		}
		s.provider = r.provider
		s.signer = r.signer
		s.contract = r.contract
		s.state = StateReady
		mode := "read-only"
		if r.signer != nil {
			mode = "read-write"
		}
		s.logger.Info(
			"session ready",
			log.Stringer("contract", r.contract.Address()),
			log.String("mode", mode),
		)
	})
	return s.Err()
}

type resolved struct {
	provider Provider
	signer   Signer
	contract *Contract
}

func (s *Session) resolve() (*resolved, error) {
	const op = "Initialize"
	parsed, err := s.cfg.parse()
	if err != nil {
		return nil, err
	}

	var provider Provider
	switch {
	case s.cfg.Signer != nil:
		provider = s.cfg.Signer.Provider()
		if provider == nil {
			return nil, NewError(KindConfiguration, op, "signer is not connected to a provider", nil)
		}
	case s.cfg.Provider != nil:
		provider = s.cfg.Provider
	default:
		return nil, NewError(KindConfiguration, op, "connection required: either signer or provider must be provided", nil)
	}

	if s.backend == nil {
		return nil, NewError(KindConfiguration, op, "fhe backend required", nil)
	}
	if s.keys == nil {
		s.keys = backendKeys{backend: s.backend}
	}

	return &resolved{
		provider: provider,
		signer:   s.cfg.Signer,
		contract: newContract(parsed.address, parsed.abi, provider, s.cfg.Signer),
	}, nil
}

func (s *Session) State() State {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state
}

// Err returns the terminal initialization error, if any.
func (s *Session) Err() error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.err
}

// Contract returns the bound contract, or nil unless the session is ready.
func (s *Session) Contract() *Contract {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.contract
}

// Signer returns the session signer, or nil for read-only sessions.
func (s *Session) Signer() Signer {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.signer
}

func (s *Session) Provider() Provider {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.provider
}

// CanWrite reports whether the session holds a signer.
func (s *Session) CanWrite() bool {
	return s.Signer() != nil
}

func (s *Session) Config() Config {
	return s.cfg
}

// ready fails with KindConfiguration unless the session is Ready.
func (s *Session) ready(op string) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.state == StateReady {
		return nil
	}
	return NewError(KindConfiguration, op, fmt.Sprintf("session not ready (state %s)", s.state), s.err)
}

// userAddress is the address encrypted inputs are bound to.
func (s *Session) userAddress() common.Address {
	if signer := s.Signer(); signer != nil {
		return signer.Address()
	}
	return common.Address{}
}

func (s *Session) observe(op string, started time.Time, err error) {
	kind := ""
	if err != nil {
		kind = KindOf(err).String()
	}
	s.metrics.Observe(op, started, kind)
}

// backendKeys is the default KeyProvider: an uncached backend fetch.
type backendKeys struct {
	backend fhe.Backend
}

func (b backendKeys) PublicKey(ctx context.Context) ([]byte, error) {
	key, err := b.backend.FetchPublicKey(ctx)
	if err != nil {
		return nil, NewError(KindNetworkFetch, "PublicKey", "failed to fetch public key", err)
	}
	return key, nil
}
