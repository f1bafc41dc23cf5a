package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the agent worker
type Metrics struct {
	// Job metrics
	ActiveJobs    prometheus.Gauge
	JobsCreated   prometheus.Counter
	JobsSucceeded prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsRejected  *prometheus.CounterVec
	JobDuration   prometheus.Histogram

	// Realtime model metrics
	RealtimeRequests  prometheus.Counter
	RealtimeTokens    *prometheus.CounterVec
	RealtimeTTFT      prometheus.Histogram
	RealtimeDuration  prometheus.Histogram
	RealtimeCancelled prometheus.Counter

	// VAD metrics
	VADInferences    prometheus.Counter
	VADInferenceTime prometheus.Histogram

	// Avatar metrics
	AvatarStarts   prometheus.Counter
	AvatarFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Job metrics
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agent_active_jobs",
			Help: "Current number of running agent jobs",
		}),
		JobsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_jobs_created_total",
			Help: "Total number of jobs accepted by the worker",
		}),
		JobsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_jobs_succeeded_total",
			Help: "Total number of jobs whose entrypoint completed without error",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_jobs_failed_total",
			Help: "Total number of jobs whose entrypoint returned an error",
		}),
		JobsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_jobs_rejected_total",
			Help: "Total number of job submissions rejected by the worker",
		}, []string{"reason"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_job_duration_seconds",
			Help:    "Lifetime of agent jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Realtime model metrics
		RealtimeRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_realtime_requests_total",
			Help: "Total number of realtime model generations",
		}),
		RealtimeTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_realtime_tokens_total",
			Help: "Total number of realtime model tokens by kind",
		}, []string{"kind"}),
		RealtimeTTFT: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_realtime_ttft_seconds",
			Help:    "Time to first token of realtime model generations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		RealtimeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_realtime_generation_duration_seconds",
			Help:    "Duration of realtime model generations",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		RealtimeCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_realtime_cancelled_total",
			Help: "Total number of realtime generations interrupted by the user",
		}),

		// VAD metrics
		VADInferences: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_vad_inferences_total",
			Help: "Total number of VAD windows processed",
		}),
		VADInferenceTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_vad_inference_duration_seconds",
			Help:    "VAD inference time per metrics report",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),

		// Avatar metrics
		AvatarStarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_avatar_starts_total",
			Help: "Total number of avatar sessions started",
		}),
		AvatarFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_avatar_failures_total",
			Help: "Total number of avatar sessions that failed to start",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordJobCreated increments the created counter and the active gauge
func (m *Metrics) RecordJobCreated() {
	m.JobsCreated.Inc()
	m.ActiveJobs.Inc()
}

// RecordJobRejected counts a rejected submission
func (m *Metrics) RecordJobRejected(reason string) {
	m.JobsRejected.WithLabelValues(reason).Inc()
}

// RecordJobEntrypoint records the outcome of a job entrypoint
func (m *Metrics) RecordJobEntrypoint(err error) {
	if err != nil {
		m.JobsFailed.Inc()
		return
	}
	m.JobsSucceeded.Inc()
}

// RecordJobFinished decrements the active gauge and records the job lifetime
func (m *Metrics) RecordJobFinished(durationSeconds float64) {
	m.ActiveJobs.Dec()
	m.JobDuration.Observe(durationSeconds)
}

// RecordRealtime records a realtime model generation
func (m *Metrics) RecordRealtime(rm RealtimeModelMetrics) {
	m.RealtimeRequests.Inc()
	m.RealtimeTokens.WithLabelValues("input").Add(float64(rm.InputTokens))
	m.RealtimeTokens.WithLabelValues("output").Add(float64(rm.OutputTokens))
	m.RealtimeTokens.WithLabelValues("input_audio").Add(float64(rm.InputAudioTokens))
	m.RealtimeTokens.WithLabelValues("output_audio").Add(float64(rm.OutputAudioTokens))
	if rm.TTFT >= 0 {
		m.RealtimeTTFT.Observe(rm.TTFT.Seconds())
	}
	m.RealtimeDuration.Observe(rm.Duration.Seconds())
	if rm.Cancelled {
		m.RealtimeCancelled.Inc()
	}
}

// RecordVAD records a VAD metrics report
func (m *Metrics) RecordVAD(vm VADMetrics) {
	m.VADInferences.Add(float64(vm.InferenceCount))
	m.VADInferenceTime.Observe(vm.InferenceDurationTotal.Seconds())
}

// RecordAvatarStart records the outcome of an avatar start
func (m *Metrics) RecordAvatarStart(err error) {
	if err != nil {
		m.AvatarFailures.Inc()
		return
	}
	m.AvatarStarts.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
