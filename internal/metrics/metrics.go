package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ntfy_mcp",
			Subsystem: "inbox",
			Name:      "messages_received_total",
			Help:      "Number of inbound messages stored in the cache.",
		},
	)
	DecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ntfy_mcp",
			Subsystem: "inbox",
			Name:      "decode_errors_total",
			Help:      "Number of malformed stream records skipped.",
		},
	)
	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ntfy_mcp",
			Subsystem: "inbox",
			Name:      "cache_size",
			Help:      "Current number of cached messages.",
		},
	)
	CacheVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ntfy_mcp",
			Subsystem: "inbox",
			Name:      "cache_version",
			Help:      "Current cache version counter.",
		},
	)
	WaiterWakes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ntfy_mcp",
			Subsystem: "inbox",
			Name:      "waiter_wakes_total",
			Help:      "Number of waits resolved by a version advance.",
		},
	)
	WaiterTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ntfy_mcp",
			Subsystem: "inbox",
			Name:      "waiter_timeouts_total",
			Help:      "Number of waits resolved by timeout.",
		},
	)
	StreamConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ntfy_mcp",
			Subsystem: "stream",
			Name:      "connects_total",
			Help:      "Number of streaming subscriptions opened.",
		}, []string{"topic"},
	)
	StreamClosures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ntfy_mcp",
			Subsystem: "stream",
			Name:      "closures_total",
			Help:      "Number of streaming subscriptions closed, by cause.",
		}, []string{"cause"},
	)
	Publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ntfy_mcp",
			Subsystem: "publish",
			Name:      "requests_total",
			Help:      "Number of publish requests, by outcome.",
		}, []string{"outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		MessagesReceived, DecodeErrors, CacheSize, CacheVersion,
		WaiterWakes, WaiterTimeouts, StreamConnects, StreamClosures, Publishes,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }
