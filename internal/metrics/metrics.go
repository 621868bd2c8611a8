// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

// Package metrics provides Prometheus instrumentation for the session
// lifecycle: connection churn, reconnect pressure, conflict resolution,
// loop detection, and event bus throughput.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_sessions_active",
			Help: "Number of sessions with a live connection handle in this process",
		},
	)

	SessionConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_session_connects_total",
			Help: "Total successful session connects",
		},
		[]string{"platform"},
	)

	SessionDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_session_disconnects_total",
			Help: "Total session disconnects, by initiator (operator, remote, shutdown)",
		},
		[]string{"platform", "initiator"},
	)

	// Failure and reconnect metrics
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_provider_errors_total",
			Help: "Provider connection errors by classified failure kind",
		},
		[]string{"platform", "kind"},
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_reconnect_attempts_total",
			Help: "Reconnect attempts started",
		},
		[]string{"platform"},
	)

	ReconnectBackoffWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_reconnect_backoff_seconds",
			Help:    "Backoff wait applied before reconnect attempts",
			Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 15, 20},
		},
	)

	LoopDetections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_loop_detections_total",
			Help: "Sessions permanently deactivated by reconnect loop detection",
		},
	)

	ConflictResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_conflict_resolutions_total",
			Help: "Same-credential sibling sessions stopped before a start",
		},
		[]string{"outcome"}, // "stopped" or "failed"
	)

	ForcedLogouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_forced_logouts_total",
			Help: "Remote force-logout calls issued during conflict reconnects",
		},
	)

	// Event bus metrics
	BusPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_bus_publishes_total",
			Help: "Events published to the bus by topic",
		},
		[]string{"topic"},
	)

	BusPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_bus_publish_errors_total",
			Help: "Failed event bus publishes by topic",
		},
		[]string{"topic"},
	)

	// HTTP API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_requests_total",
			Help: "Operator API requests by route and status code",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_api_request_duration_seconds",
			Help:    "Operator API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// RecordProviderError records a classified provider error.
func RecordProviderError(platform, kind string) {
	ProviderErrors.WithLabelValues(platform, kind).Inc()
}

// RecordBackoffWait records the wait applied before a reconnect attempt.
func RecordBackoffWait(wait time.Duration) {
	ReconnectBackoffWait.Observe(wait.Seconds())
}

// RecordBusPublish records a bus publish and its outcome.
func RecordBusPublish(topic string, err error) {
	if err != nil {
		BusPublishErrors.WithLabelValues(topic).Inc()
		return
	}
	BusPublishes.WithLabelValues(topic).Inc()
}
