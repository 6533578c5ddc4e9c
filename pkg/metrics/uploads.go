package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UploadMetrics records processing metadata for the generation pipeline.
type UploadMetrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

// NewUploadMetrics registers the upload pipeline metrics on the provided registerer.
func NewUploadMetrics(reg prometheus.Registerer) *UploadMetrics {
	if reg == nil {
		return &UploadMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_processed_total",
		Help: "Uploads that reached a terminal processing status.",
	}, []string{"status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upload_processing_seconds",
		Help:    "Duration of upload processing in seconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"status"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "upload_processing_in_flight",
		Help: "Uploads currently being processed by the worker.",
	})
	reg.MustRegister(processed, duration, inFlight)
	return &UploadMetrics{
		processed: processed,
		duration:  duration,
		inFlight:  inFlight,
	}
}

// IncProcessed increments the terminal status counter.
func (m *UploadMetrics) IncProcessed(status string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveProcessing records the processing duration for a terminal status.
func (m *UploadMetrics) ObserveProcessing(status string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(status)).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns a done func.
func (m *UploadMetrics) TrackInFlight() func() {
	if m == nil || m.inFlight == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return func() { m.inFlight.Dec() }
}
