// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/fhevm/api"
	"github.com/luxfi/fhevm/metrics"
	"github.com/luxfi/fhevm/observer"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Long: `Serve encryption, decryption and key management over HTTP on api-port,
and Prometheus metrics on metrics-port.`,
		Args: cobra.NoArgs,
		RunE: runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		}),
	}
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger

	// The initial key fetch is not fatal: /health reports it until the
	// backend becomes reachable.
	keyState := observer.New[[]byte]()
	unsubscribe := keyState.Subscribe(func(s observer.Snapshot[[]byte]) {
		switch s.Status {
		case observer.StatusSuccess:
			logger.Info("public key loaded", log.Int("size", len(s.Data)))
		case observer.StatusError:
			logger.Warn("public key unavailable", log.Err(s.Err))
		default:
			logger.Debug("public key", log.Stringer("status", s.Status))
		}
	})
	defer unsubscribe()
	_, _ = keyState.Run(ctx, a.keys.PublicKey)

	metricsServer := metrics.StartServer(logger, a.registry, a.cfg.MetricsPort)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.APIPort),
		Handler:           api.NewHandler(logger, a.session, a.keys, api.WithRefresher(a.keys)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errGroup, ctx := errgroup.WithContext(ctx)
	errGroup.Go(func() error {
		logger.Info("starting API server", log.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		return nil
	})
	errGroup.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(
			httpServer.Shutdown(shutdownCtx),
			metricsServer.Shutdown(shutdownCtx),
		)
	})

	logger.Info("initialization complete", log.Stringer("state", a.session.State()))
	return errGroup.Wait()
}
