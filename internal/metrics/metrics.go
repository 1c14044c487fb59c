// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed reconciliation
	RecordsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_feed_records_applied_total",
			Help: "Record change events applied to a keyed store",
		},
		[]string{"feed"},
	)

	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_feed_decode_failures_total",
			Help: "Nested fields that failed to decode and fell back to a default",
		},
		[]string{"feed", "field"},
	)

	SnapshotSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_feed_snapshot_size",
			Help: "Number of records in the latest materialized snapshot",
		},
		[]string{"feed"},
	)

	// Graph store
	GraphWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_graph_writes_total",
			Help: "Graph put operations by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	GraphWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_graph_write_duration_seconds",
			Help:    "Time for a graph put to be acknowledged",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Presence
	PresenceOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_presence_online",
			Help: "Identities currently considered online",
		},
	)

	PresenceExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_presence_expired_total",
			Help: "Identities removed by the presence sweep",
		},
	)

	// Local broadcast bus
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_bus_messages_total",
			Help: "Messages delivered by the local broadcast bus",
		},
		[]string{"sender", "type"},
	)

	// Voice
	AudioFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_audio_frames_total",
			Help: "PCM frames encoded (out) or decoded (in)",
		},
		[]string{"direction"},
	)

	AudioInterruptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_audio_interruptions_total",
			Help: "Playback interruptions signalled by the voice collaborator",
		},
	)

	// Generative AI
	AICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_ai_calls_total",
			Help: "Generative AI calls by operation and outcome (ok, fallback, error)",
		},
		[]string{"operation", "outcome"},
	)

	AICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_ai_call_duration_seconds",
			Help:    "Latency of generative AI calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// UI hub
	UIClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_ui_clients",
			Help: "Connected UI websocket tabs",
		},
	)
)
