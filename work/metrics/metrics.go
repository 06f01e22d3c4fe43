package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionsActive tracks the number of playback sessions that have started and not yet
// been closed. This metric is a gauge, it goes up on start and down on close.
var SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kptv_player_sessions_active",
	Help: "Number of live playback sessions",
})

// StateTransitions counts accepted session state changes by origin and target state.
var StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_player_state_transitions_total",
	Help: "Playback session state transitions",
}, []string{"from", "to"})

// PlaybackErrors counts error events reported by the ABR client or native playback.
// The "category" label carries the error class and "fatal" whether playback was interrupted.
var PlaybackErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_player_playback_errors_total",
	Help: "Playback error events by category",
}, []string{"category", "fatal"})

// Stalls counts transitions into the Stalled state.
var Stalls = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kptv_player_stalls_total",
	Help: "Number of detected playback stalls",
})

// ForcedReloads counts reloads forced by the health monitor after a persistent stall.
var ForcedReloads = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kptv_player_forced_reloads_total",
	Help: "Number of reloads forced by the stream health monitor",
})

// IngestEntries reports the size of the last published catalog.
var IngestEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kptv_player_ingest_entries",
	Help: "Number of entries in the current catalog",
})

// IngestDuration observes how long successful ingestions take.
var IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "kptv_player_ingest_duration_seconds",
	Help:    "Duration of catalog ingestions",
	Buckets: prometheus.DefBuckets,
})

// IngestFailures counts aborted ingestions by failing stage.
var IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_player_ingest_failures_total",
	Help: "Number of failed catalog ingestions",
}, []string{"stage"})
