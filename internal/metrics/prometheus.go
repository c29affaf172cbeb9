package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the ducking service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Job metrics
	Jobs        *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	InputLength prometheus.Histogram
	LoopCount   prometheus.Histogram

	// Chunk metrics
	Chunks *prometheus.CounterVec

	// Output metrics
	OutputBytes *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoduck_jobs_total",
			Help: "Total number of ducking jobs by outcome",
		}, []string{"outcome"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autoduck_job_stage_duration_seconds",
			Help:    "Time spent in each stage of a ducking job",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"stage"}),
		InputLength: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "autoduck_voice_length_seconds",
			Help:    "Length of decoded voice tracks",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		LoopCount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "autoduck_background_loops",
			Help:    "Number of background copies needed to cover the voice",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		Chunks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoduck_chunks_total",
			Help: "Total number of processed chunks by ducking decision",
		}, []string{"decision"}),
		OutputBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autoduck_output_bytes",
			Help:    "Size of encoded output streams",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 12), // 16KB to ~32MB
		}, []string{"format"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoduck_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autoduck_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordJob increments the job counter for outcome.
func (m *Metrics) RecordJob(outcome string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a job stage took.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordChunks adds the heavy and light chunk counts of one job.
func (m *Metrics) RecordChunks(active, quiet int) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues("heavy").Add(float64(active))
	m.Chunks.WithLabelValues("light").Add(float64(quiet))
}

// RecordInput records the voice length and background loop count of a job.
func (m *Metrics) RecordInput(voiceSeconds float64, loops int) {
	if m == nil {
		return
	}
	m.InputLength.Observe(voiceSeconds)
	m.LoopCount.Observe(float64(loops))
}

// RecordOutput records the encoded size for format.
func (m *Metrics) RecordOutput(format string, size int) {
	if m == nil {
		return
	}
	m.OutputBytes.WithLabelValues(format).Observe(float64(size))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
