// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/btcsuite/electrumx/jsonrpc"
	"github.com/btcsuite/electrumx/rpcclient"
	"github.com/btcsuite/electrumx/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsEndpoint = "/metrics"

// Call results used as the result label.
const (
	resultOK          = "ok"
	resultServerError = "server_error"
	resultTimeout     = "timeout"
	resultClosed      = "closed"
	resultError       = "error"
)

// metrics contains the Prometheus metrics of electrumxctl.
type metrics struct {
	registry *prometheus.Registry

	// RPC calls on the primary connection.
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec

	// Subscription recoveries by outcome.
	recoveries *prometheus.CounterVec
}

// Ensure metrics satisfies the rpcclient.Observer interface.
var _ rpcclient.Observer = (*metrics)(nil)

// newMetrics registers the metrics with a new registry.
func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "electrumx_rpc_calls_total",
				Help: "The total number of ElectrumX calls by method and result",
			},
			[]string{"endpoint", "method", "result"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "electrumx_rpc_call_duration_seconds",
				Help:    "Duration of ElectrumX calls",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"method"},
		),
		recoveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "electrumx_subscription_recoveries_total",
				Help: "The total number of subscription recoveries by result",
			},
			[]string{"result"},
		),
	}
}

// callResult classifies err for the result label.
func callResult(err error) string {
	var rpcErr *jsonrpc.RPCError
	switch {
	case err == nil:
		return resultOK
	case errors.As(err, &rpcErr):
		return resultServerError
	case errors.Is(err, transport.ErrTimeout):
		return resultTimeout
	case errors.Is(err, transport.ErrClosed):
		return resultClosed
	default:
		return resultError
	}
}

// ObserveCall records one call.
func (m *metrics) ObserveCall(endpoint, method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(endpoint, method, callResult(err)).Inc()
	m.callDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *metrics) observeRecovery(err error) {
	if m == nil {
		return
	}
	result := resultOK
	if err != nil {
		result = resultError
	}
	m.recoveries.WithLabelValues(result).Inc()
}

// server returns an http.Server exposing the metrics on addr.
func (m *metrics) server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(metricsEndpoint, promhttp.HandlerFor(m.registry,
		promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
