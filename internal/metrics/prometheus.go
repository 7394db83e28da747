// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stt"

// ResultSuccess labels a transcription that produced a result.
const ResultSuccess = "success"

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Upload and inference metrics
	UploadSize        prometheus.Histogram
	AudioDuration     prometheus.Histogram
	InferenceDuration prometheus.Histogram
	InferenceFailures prometheus.Counter
	CleanupFailures   prometheus.Counter

	// Outcome per request, labelled by success or failure kind
	Transcriptions *prometheus.CounterVec

	// Model state
	ModelReady prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UploadSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_size_bytes",
			Help:      "Size of accepted uploads in bytes",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 4, 8), // 16KB to ~256MB
		}),
		AudioDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_duration_seconds",
			Help:      "Length of uploaded WAV audio",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		InferenceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Time spent in model inference",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		InferenceFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_failures_total",
			Help:      "Total number of failed inference calls",
		}),
		CleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Total number of staged files that could not be removed",
		}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total number of transcription requests by result",
		}, []string{"result"}),
		ModelReady: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_ready",
			Help:      "1 when a model is loaded, 0 otherwise",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordUpload observes the size of a staged upload
func (m *Metrics) RecordUpload(sizeBytes int64) {
	m.UploadSize.Observe(float64(sizeBytes))
}

// RecordAudioDuration observes the decoded length of an upload
func (m *Metrics) RecordAudioDuration(seconds float64) {
	m.AudioDuration.Observe(seconds)
}

// RecordInference observes one inference call
func (m *Metrics) RecordInference(durationSeconds float64, err error) {
	m.InferenceDuration.Observe(durationSeconds)
	if err != nil {
		m.InferenceFailures.Inc()
	}
}

// RecordCleanupFailure increments the cleanup failures counter
func (m *Metrics) RecordCleanupFailure() {
	m.CleanupFailures.Inc()
}

// RecordTranscription counts one finished request
func (m *Metrics) RecordTranscription(result string) {
	m.Transcriptions.WithLabelValues(result).Inc()
}

// SetModelReady sets the model ready gauge
func (m *Metrics) SetModelReady(ready bool) {
	if ready {
		m.ModelReady.Set(1)
		return
	}
	m.ModelReady.Set(0)
}

// RecordHTTPRequest records an HTTP request and, for 4xx/5xx, an error
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)

	if statusCode >= 400 {
		errorType := "client_error"
		if statusCode >= 500 {
			errorType = "server_error"
		}
		m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
	}
}
