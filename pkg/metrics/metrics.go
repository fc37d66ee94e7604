// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamsActive tracks live SSE streams held by the consumer.
	StreamsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamcore_streams_active",
			Help: "Number of live SSE streams",
		},
		[]string{"kind"},
	)

	// StreamFramesTotal tracks SSE frames received, by event type.
	StreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_stream_frames_total",
			Help: "Total SSE frames received",
		},
		[]string{"kind", "type"},
	)

	// ProtocolDropsTotal tracks frames dropped because they could not be decoded.
	ProtocolDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_protocol_drops_total",
			Help: "Total SSE frames dropped as malformed",
		},
		[]string{"kind"},
	)

	// StreamOutcomesTotal tracks terminal stream states.
	StreamOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_stream_outcomes_total",
			Help: "Total streams by terminal status",
		},
		[]string{"kind", "status"},
	)

	// StreamDuration tracks the lifetime of a stream.
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamcore_stream_duration_seconds",
			Help:    "SSE stream lifetime in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"kind", "status"},
	)

	// LoadMoreRoundsTotal tracks pagination rounds.
	LoadMoreRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_load_more_rounds_total",
			Help: "Total load-more rounds by outcome",
		},
		[]string{"outcome"},
	)

	// ItemsIngestedTotal tracks content items accepted by the aggregator.
	ItemsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_items_ingested_total",
			Help: "Total content items ingested, by platform",
		},
		[]string{"platform"},
	)

	// MessagesFinalizedTotal tracks chat messages appended on finalize.
	MessagesFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamcore_messages_finalized_total",
			Help: "Total chat messages appended on finalize",
		},
		[]string{"role", "trigger"},
	)

	// RequestDuration tracks HTTP request duration on the development backend.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mockapi_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests on the development backend.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockapi_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SSEConnectionsActive tracks SSE connections served by the development backend.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mockapi_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStreamOutcome records the terminal state of one stream.
func RecordStreamOutcome(kind, status string, duration float64) {
	StreamOutcomesTotal.WithLabelValues(kind, status).Inc()
	StreamDuration.WithLabelValues(kind, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
