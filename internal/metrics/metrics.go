// Package metrics holds the Prometheus instruments of the simulator.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and tools.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame sources reported by FrameGenerated
const (
	SourceInjected = "injected"
	SourceActive   = "active_event"
	SourceRandom   = "random_event"
	SourceCatalog  = "catalog"
	SourceDummy    = "dummy"
)

// Metrics groups every collector registered by the simulator
type Metrics struct {
	FramesGenerated  *prometheus.CounterVec
	DuplicateRetries prometheus.Counter
	FramesFiltered   *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	ActiveEvents     prometheus.Gauge

	// Calibration
	CalibrationSessions   prometheus.Counter
	CalibrationCandidates prometheus.Histogram

	// Playback
	PlaybackSteps prometheus.Counter
	PlaybackRuns  *prometheus.CounterVec

	// Sinks and subscribers
	SinkErrors      *prometheus.CounterVec
	StreamClients   prometheus.Gauge
	SubscriberDrops prometheus.Counter
	BusTickDuration prometheus.Histogram
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "can_sim_frames_generated_total",
				Help: "Total number of frames produced by the generator",
			},
			[]string{"source"},
		),
		DuplicateRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "can_sim_duplicate_retries_total",
				Help: "Total number of background frames discarded as recent duplicates",
			},
		),
		FramesFiltered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "can_sim_frames_filtered_total",
				Help: "Total number of frames evaluated by the stream filter",
			},
			[]string{"result"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "can_sim_injection_queue_depth",
				Help: "Current depth of the injection queue",
			},
		),
		ActiveEvents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "can_sim_active_events",
				Help: "Number of events currently switched on",
			},
		),
		CalibrationSessions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "can_sim_calibration_sessions_total",
				Help: "Total number of calibration sessions started",
			},
		),
		CalibrationCandidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "can_sim_calibration_candidates",
				Help:    "Number of candidates returned per calibration session",
				Buckets: prometheus.LinearBuckets(0, 2, 6),
			},
		),
		PlaybackSteps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "can_sim_playback_steps_total",
				Help: "Total number of playback steps injected",
			},
		),
		PlaybackRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "can_sim_playback_runs_total",
				Help: "Total number of playback runs by outcome",
			},
			[]string{"outcome"},
		),
		SinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "can_sim_sink_errors_total",
				Help: "Total number of frame sink write failures",
			},
			[]string{"sink"},
		),
		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "can_sim_stream_clients",
				Help: "Number of connected WebSocket stream clients",
			},
		),
		SubscriberDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "can_sim_subscriber_drops_total",
				Help: "Total number of frames dropped for slow subscribers",
			},
		),
		BusTickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "can_sim_bus_tick_duration_seconds",
				Help:    "Duration of one generate/filter/dispatch cycle",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
	}
}

// FrameGenerated counts one emitted frame by source
func (m *Metrics) FrameGenerated(source string) {
	if m == nil {
		return
	}
	m.FramesGenerated.WithLabelValues(source).Inc()
}

// DuplicateRetry counts a discarded duplicate
func (m *Metrics) DuplicateRetry() {
	if m == nil {
		return
	}
	m.DuplicateRetries.Inc()
}

// FrameFiltered counts a filter decision
func (m *Metrics) FrameFiltered(accepted bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.FramesFiltered.WithLabelValues(result).Inc()
}

// SetQueueDepth reports the injection queue depth
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetActiveEvents reports the size of the active-event set
func (m *Metrics) SetActiveEvents(n int) {
	if m == nil {
		return
	}
	m.ActiveEvents.Set(float64(n))
}

// CalibrationStarted counts a calibration session
func (m *Metrics) CalibrationStarted() {
	if m == nil {
		return
	}
	m.CalibrationSessions.Inc()
}

// CalibrationFinished observes how many candidates a session produced
func (m *Metrics) CalibrationFinished(candidates int) {
	if m == nil {
		return
	}
	m.CalibrationCandidates.Observe(float64(candidates))
}

// PlaybackStep counts one injected playback step
func (m *Metrics) PlaybackStep() {
	if m == nil {
		return
	}
	m.PlaybackSteps.Inc()
}

// PlaybackRun counts a finished playback run ("completed" or "stopped")
func (m *Metrics) PlaybackRun(outcome string) {
	if m == nil {
		return
	}
	m.PlaybackRuns.WithLabelValues(outcome).Inc()
}

// SinkError counts a failed write on the named sink
func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// SetStreamClients reports connected stream clients
func (m *Metrics) SetStreamClients(n int) {
	if m == nil {
		return
	}
	m.StreamClients.Set(float64(n))
}

// SubscriberDrop counts a frame dropped for a slow subscriber
func (m *Metrics) SubscriberDrop() {
	if m == nil {
		return
	}
	m.SubscriberDrops.Inc()
}

// ObserveTick records the duration of one bus cycle in seconds
func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.BusTickDuration.Observe(seconds)
}
