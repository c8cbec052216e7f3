// Package metrics exposes Prometheus collectors for the handshake and HTTP layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tglink"

// Handshake metrics
var (
	HandshakesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshakes_started_total",
		Help:      "Linking handshakes started.",
	})

	HandshakesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshakes_finished_total",
		Help:      "Linking handshakes that reached a terminal state, by status and error class.",
	}, []string{"status", "class"})

	HandshakesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "handshakes_in_flight",
		Help:      "Operations currently holding a platform client.",
	})

	FloodArmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flood_control_armed_total",
		Help:      "Cool-downs armed after a platform flood wait.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshakes_rate_limited_total",
		Help:      "Handshake starts rejected by flood control.",
	})

	SessionsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_persisted_total",
		Help:      "Encrypted sessions written to the store.",
	})
)

// Request metrics
var (
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_failures_total",
		Help:      "Rejected init-data assertions by reason.",
	}, []string{"reason"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
