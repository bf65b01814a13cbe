package whisperpool

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the Pool Manager's internal counters as Prometheus
// collectors. Serving them is the cmd/whisperpoold binary's job, not the
// Manager's: it mounts Handler at MetricsConfig.Path on the outer HTTP
// server when metrics are enabled; MetricsConfig.Endpoint is not used.
type Metrics struct {
	registry *prometheus.Registry

	workersTotal   prometheus.Gauge
	workersHealthy prometheus.Gauge

	spawnAttempts prometheus.Counter
	spawnFailures prometheus.Counter

	probesSucceeded prometheus.Counter
	probesFailed    prometheus.Counter

	replacements prometheus.Counter
	rotations    prometheus.Counter

	requestsTotal    prometheus.Counter
	requestsFailed   prometheus.Counter
	requestDurations prometheus.Histogram
}

// NewMetrics builds a fresh, independent metrics registry. Independent
// registries let tests build multiple Managers without collector
// double-registration panics (the teacher's module-level pool singleton
// did not need this; an explicit Manager object does).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		workersTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "whisperpool_workers_total",
			Help: "Number of workers currently registered in the pool.",
		}),
		workersHealthy: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "whisperpool_workers_healthy",
			Help: "Number of workers currently in the Healthy state.",
		}),
		spawnAttempts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "whisperpool_spawn_attempts_total",
			Help: "Number of spawn_worker invocations that were not aborted by backoff.",
		}),
		spawnFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "whisperpool_spawn_failures_total",
			Help: "Number of spawn attempts that failed to start or reach Healthy.",
		}),
		probesSucceeded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "whisperpool_health_probes_succeeded_total",
			Help: "Number of health probes that returned success.",
		}),
		probesFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "whisperpool_health_probes_failed_total",
			Help: "Number of health probes that returned failure.",
		}),
		replacements: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "whisperpool_worker_replacements_total",
			Help: "Number of times replace_worker ran.",
		}),
		rotations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "whisperpool_worker_rotations_total",
			Help: "Number of times rotation-on-threshold triggered a replacement.",
		}),
		requestsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "whisperpool_proxy_requests_total",
			Help: "Number of transcription requests proxied to workers.",
		}),
		requestsFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "whisperpool_proxy_requests_failed_total",
			Help: "Number of transcription requests that failed (no healthy worker or upstream error).",
		}),
		requestDurations: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "whisperpool_proxy_request_duration_seconds",
			Help:    "Latency of proxied transcription requests.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	return m
}

// Handler returns an http.Handler serving this registry in the Prometheus
// exposition format, for mounting at config.Metrics.Path.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordSpawnAttempt()  { m.spawnAttempts.Inc() }
func (m *Metrics) recordSpawnFailure()  { m.spawnFailures.Inc() }
func (m *Metrics) recordProbeSuccess()  { m.probesSucceeded.Inc() }
func (m *Metrics) recordProbeFailure()  { m.probesFailed.Inc() }
func (m *Metrics) recordReplacement()   { m.replacements.Inc() }
func (m *Metrics) recordRotation()      { m.rotations.Inc() }

func (m *Metrics) recordRequest(start time.Time, ok bool) {
	m.requestsTotal.Inc()
	if !ok {
		m.requestsFailed.Inc()
	}
	m.requestDurations.Observe(time.Since(start).Seconds())
}

func (m *Metrics) setPoolCounts(total, healthy int) {
	m.workersTotal.Set(float64(total))
	m.workersHealthy.Set(float64(healthy))
}
