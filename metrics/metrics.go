// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fhevm"

// Metrics tracks client operations. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latencyMS  *prometheus.HistogramVec
	keyFetches prometheus.Counter
	keyRefresh prometheus.Counter
}

func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Number of client operations started",
			},
			[]string{"op"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_failures_total",
				Help:      "Number of client operations that failed, by error kind",
			},
			[]string{"op", "kind"},
		),
		latencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_latency_ms",
				Help:      "Latency of client operations in milliseconds",
				Buckets:   prometheus.ExponentialBucketsRange(1, 30000, 12),
			},
			[]string{"op"},
		),
		keyFetches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "public_key_fetches_total",
				Help:      "Number of public key round trips",
			},
		),
		keyRefresh: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "public_key_refreshes_total",
				Help:      "Number of explicit public key refreshes",
			},
		),
	}
	for _, c := range []prometheus.Collector{m.operations, m.failures, m.latencyMS, m.keyFetches, m.keyRefresh} {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Observe records one finished operation. errKind is empty on success.
func (m *Metrics) Observe(op string, started time.Time, errKind string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
	m.latencyMS.WithLabelValues(op).Observe(float64(time.Since(started).Milliseconds()))
	if errKind != "" {
		m.failures.WithLabelValues(op, errKind).Inc()
	}
}

func (m *Metrics) KeyFetched() {
	if m == nil {
		return
	}
	m.keyFetches.Inc()
}

func (m *Metrics) KeyRefreshed() {
	if m == nil {
		return
	}
	m.keyRefresh.Inc()
}

// StartServer serves the registry's metrics on /metrics at port in the
// background and returns the server so the caller can shut it down.
func StartServer(logger log.Logger, gatherer prometheus.Gatherer, port uint16) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting metrics server", log.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", log.Err(err))
		}
	}()
	return server
}
