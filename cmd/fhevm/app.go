// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/luxfi/geth/ethclient"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/luxfi/fhevm"
	"github.com/luxfi/fhevm/config"
	"github.com/luxfi/fhevm/fhe"
	"github.com/luxfi/fhevm/fhe/memory"
	"github.com/luxfi/fhevm/fhe/relayer"
	"github.com/luxfi/fhevm/keys"
	"github.com/luxfi/fhevm/metrics"
	"github.com/luxfi/fhevm/signer"
)

var errNoTerminal = errors.New("--prompt-key requires an interactive terminal")

// app holds everything a command needs. It is built once per invocation.
type app struct {
	cfg      config.Config
	logger   log.Logger
	client   *ethclient.Client
	backend  fhe.Backend
	keys     *keys.RefreshableManager
	registry *prometheus.Registry
	session  *fhevm.Session
}

func newApp(cmd *cobra.Command) (*app, error) {
	v, err := config.BuildViper(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("couldn't configure flags: %w", err)
	}
	cfg, err := config.NewConfig(v)
	if err != nil {
		return nil, fmt.Errorf("couldn't build config: %w", err)
	}

	logLevel, err := log.ToLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error reading log level from config: %w", err)
	}
	// Logs go to stderr; stdout carries command output.
	logger := log.NewLogger(
		"fhevm",
		*log.NewWrappedCore(
			logLevel,
			os.Stderr,
			log.JSON.ConsoleEncoder(),
		),
	)

	abiJSON, err := cfg.LoadABI()
	if err != nil {
		return nil, err
	}

	promptKey, err := cmd.Flags().GetBool(promptKeyFlag)
	if err != nil {
		return nil, err
	}
	if promptKey && cfg.PrivateKey == "" {
		if cfg.PrivateKey, err = readPrivateKey(); err != nil {
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	manager := keys.NewRefreshableManager(
		backend,
		keys.WithTTL(cfg.KeyCacheTTL),
		keys.WithLogger(logger),
		keys.WithMetrics(m),
	)

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	sessionCfg := fhevm.Config{
		ContractAddress: cfg.ContractAddress,
		ContractABI:     abiJSON,
		ChainID:         cfg.ChainID,
		AllowedChainIDs: cfg.AllowedChainIDs,
		Provider:        client,
	}
	if cfg.PrivateKey != "" {
		ks, err := signer.FromHex(cfg.PrivateKey, client, signer.WithLogger(logger))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		sessionCfg.Signer = ks
		logger.Info("using signer", log.Stringer("address", ks.Address()))
	}

	session, err := fhevm.Initialize(sessionCfg,
		fhevm.WithBackend(backend),
		fhevm.WithKeyProvider(manager),
		fhevm.WithLogger(logger),
		fhevm.WithMetrics(m),
		fhevm.WithBatchConcurrency(cfg.BatchConcurrency),
		fhevm.WithGrantDuration(cfg.GrantDurationDays),
	)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		backend:  backend,
		keys:     manager,
		registry: registry,
		session:  session,
	}, nil
}

func (a *app) Close() {
	a.client.Close()
}

func newBackend(cfg config.Config, logger log.Logger) (fhe.Backend, error) {
	switch cfg.Backend {
	case config.BackendRelayer:
		opts := []relayer.Option{
			relayer.WithLogger(logger),
			relayer.WithRetryTimeout(cfg.RelayerTimeout),
		}
		if cfg.RelayerAPIKey != "" {
			opts = append(opts, relayer.WithAPIKey(cfg.RelayerAPIKey))
		}
		return relayer.New(cfg.RelayerURL, opts...)
	default:
		logger.Warn("using the in-memory backend; ciphertexts are not encrypted")
		return memory.New(cfg.ChainID, cfg.MemoryCapacity)
	}
}

func readPrivateKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, "Private key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read private key: %w", err)
	}
	return strings.TrimSpace(string(key)), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
