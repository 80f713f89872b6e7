package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Capture counters
	FramesCaptured atomic.Uint64
	FramesBuffered atomic.Uint64
	SourceErrors   atomic.Uint64

	// Detection counters
	Detections         atomic.Uint64
	ViolenceDetections atomic.Uint64
	InferenceErrors    atomic.Uint64
	InferenceLatencyMs atomic.Uint64

	// Fan-out counters
	Subscribers       atomic.Uint64
	BroadcastErrors   atomic.Uint64
	NotificationsSent atomic.Uint64
	ResultsDropped    atomic.Uint64

	// Stream tracking
	ActiveStreams atomic.Uint64
	TotalStreams  atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"streamguard_frames_captured_total", "Total frames read from video sources", m.FramesCaptured.Load},
		{"streamguard_frames_buffered_total", "Total normalized frames pushed into window buffers", m.FramesBuffered.Load},
		{"streamguard_source_errors_total", "Total video source connect/read failures", m.SourceErrors.Load},
		{"streamguard_detections_total", "Total inference windows evaluated", m.Detections.Load},
		{"streamguard_violence_detections_total", "Total positive violence detections", m.ViolenceDetections.Load},
		{"streamguard_inference_errors_total", "Total inference backend failures", m.InferenceErrors.Load},
		{"streamguard_inference_latency_ms", "Last inference round-trip in milliseconds", m.InferenceLatencyMs.Load},
		{"streamguard_subscribers", "Number of connected broadcast subscribers", m.Subscribers.Load},
		{"streamguard_broadcast_errors_total", "Total subscriber send failures", m.BroadcastErrors.Load},
		{"streamguard_notifications_sent_total", "Total alert notifications emitted", m.NotificationsSent.Load},
		{"streamguard_results_dropped_total", "Total detection results dropped from full result queues", m.ResultsDropped.Load},
		{"streamguard_active_streams", "Number of running streams", m.ActiveStreams.Load},
		{"streamguard_total_streams", "Number of registered streams", m.TotalStreams.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// UpdateInferenceLatency records the duration of the last inference call
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
