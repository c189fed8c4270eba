// Package metrics holds the Prometheus collectors exported by the monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	ReadingsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_readings_fetched_total",
			Help: "Total number of valid readings fetched from the store",
		},
	)

	ReadingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_readings_rejected_total",
			Help: "Total number of readings dropped by validation",
		},
		[]string{"code"},
	)

	// Alerts
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_emitted_total",
			Help: "Total number of alerts persisted",
		},
		[]string{"type", "severity"},
	)

	AlertsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_failed_total",
			Help: "Total number of alert inserts that failed",
		},
		[]string{"type"},
	)

	CompositeSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_composite_suppressed_total",
			Help: "Total number of composite alerts suppressed by the debounce window",
		},
	)

	// Loop
	Cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_cycles_total",
			Help: "Total number of monitor cycles by outcome",
		},
		[]string{"outcome"}, // ok, failed, disconnected
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_cycle_duration_seconds",
			Help:    "Monitor cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	TrackedSensors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_tracked_sensors",
			Help: "Number of sensors held in the in-memory state store",
		},
	)

	// Connectivity
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_connect_attempts_total",
			Help: "Total number of store connection attempts by result",
		},
		[]string{"result"}, // success, failure
	)

	// Housekeeping
	Evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_evictions_total",
			Help: "Total number of in-memory entries removed by the reaper",
		},
		[]string{"kind"}, // sensor_state, debounce
	)
)
