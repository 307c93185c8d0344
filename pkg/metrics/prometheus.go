// Package metrics provides Prometheus metrics for the tax engine service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns all Prometheus metrics for the service.
type Manager struct {
	namespace string
	subsystem string
	buckets   []float64
	registry  *prometheus.Registry

	// Pipeline metrics.
	computations       prometheus.Counter
	computationErrors  *prometheus.CounterVec
	computationLatency prometheus.Histogram
	diagnosesCompleted prometheus.Counter
	detectorHits       *prometheus.CounterVec
	detectorErrors     *prometheus.CounterVec
	scoresComputed     prometheus.Counter
	plansGenerated     prometheus.Counter
	scenariosSimulated *prometheus.CounterVec
	regimeComparisons  prometheus.Counter

	// Session metrics.
	activeSessions  prometheus.Gauge
	profileUpdates  prometheus.Counter

	// Notification bus metrics.
	notifyPublished prometheus.Counter
	notifyDropped   prometheus.Counter
	notifyQueueSize prometheus.Gauge

	// Location lookups.
	locationLookups   *prometheus.CounterVec
	locationFallbacks prometheus.Counter

	// HTTP metrics.
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem sets the subsystem for all metrics.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithHistogramBuckets sets custom latency histogram buckets.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

var globalManager *Manager

//nolint:gochecknoinits // global metrics setup mirrors the rest of the service
func init() {
	globalManager = NewManager()
}

// NewManager creates a metrics manager on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "tributo",
		subsystem: "engine",
		buckets:   prometheus.DefBuckets,
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.computations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "computations_total",
		Help: "Total number of tax computations performed",
	})
	m.computationErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "computation_errors_total",
		Help: "Tax computation failures by kind",
	}, []string{"kind"})
	m.computationLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "computation_latency_milliseconds",
		Help:    "Histogram of full-pipeline computation latency in milliseconds",
		Buckets: m.buckets,
	})
	m.diagnosesCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "diagnoses_total",
		Help: "Total number of diagnostic batteries run",
	})
	m.detectorHits = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "detector_findings_total",
		Help: "Findings emitted per detector",
	}, []string{"detector", "severity"})
	m.detectorErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "detector_errors_total",
		Help: "Detector internal failures (detector contributed nothing)",
	}, []string{"detector"})
	m.scoresComputed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "scores_total",
		Help: "Total number of health scores computed",
	})
	m.plansGenerated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "plans_total",
		Help: "Total number of action plans generated",
	})
	m.scenariosSimulated = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "scenarios_total",
		Help: "Scenario simulations by type",
	}, []string{"type"})
	m.regimeComparisons = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "regime_comparisons_total",
		Help: "Total number of regime comparisons",
	})

	m.activeSessions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "active_sessions",
		Help: "Number of company sessions currently held in the store",
	})
	m.profileUpdates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "profile_updates_total",
		Help: "Total number of profile mutations",
	})

	m.notifyPublished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "notifications_published_total",
		Help: "Outbound notifications accepted by the bus",
	})
	m.notifyDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "notifications_dropped_total",
		Help: "Outbound notifications dropped on overflow or shutdown",
	})
	m.notifyQueueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "notification_queue_size",
		Help: "Current depth of the outbound notification queue",
	})

	m.locationLookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "location_lookups_total",
		Help: "Locality rate lookups by outcome",
	}, []string{"outcome"})
	m.locationFallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "location_fallbacks_total",
		Help: "Locality lookups answered with the unconfirmed default rate",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_requests_total",
		Help: "HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.buckets,
	}, []string{"endpoint", "method"})
}

// Handler returns the scrape handler for the manager's registry.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package-level helpers over the global manager.

// RecordComputation increments the computation counter.
func RecordComputation() { globalManager.computations.Inc() }

// RecordComputationError counts a computation failure by kind.
func RecordComputationError(kind string) {
	globalManager.computationErrors.WithLabelValues(kind).Inc()
}

// RecordComputationLatency records full-pipeline latency in milliseconds.
func RecordComputationLatency(ms float64) { globalManager.computationLatency.Observe(ms) }

// RecordDiagnosis increments the diagnosis counter.
func RecordDiagnosis() { globalManager.diagnosesCompleted.Inc() }

// RecordDetectorFinding counts one finding per detector and severity.
func RecordDetectorFinding(detector, severity string) {
	globalManager.detectorHits.WithLabelValues(detector, severity).Inc()
}

// RecordDetectorError counts a detector internal failure.
func RecordDetectorError(detector string) {
	globalManager.detectorErrors.WithLabelValues(detector).Inc()
}

// RecordScore increments the score counter.
func RecordScore() { globalManager.scoresComputed.Inc() }

// RecordPlan increments the plan counter.
func RecordPlan() { globalManager.plansGenerated.Inc() }

// RecordScenario counts one simulation by type.
func RecordScenario(scenarioType string) {
	globalManager.scenariosSimulated.WithLabelValues(scenarioType).Inc()
}

// RecordRegimeComparison increments the comparison counter.
func RecordRegimeComparison() { globalManager.regimeComparisons.Inc() }

// UpdateActiveSessions sets the session gauge.
func UpdateActiveSessions(n int) { globalManager.activeSessions.Set(float64(n)) }

// RecordProfileUpdate increments the profile mutation counter.
func RecordProfileUpdate() { globalManager.profileUpdates.Inc() }

// RecordNotificationPublished counts an accepted outbound notification.
func RecordNotificationPublished() { globalManager.notifyPublished.Inc() }

// RecordNotificationDropped counts a dropped outbound notification.
func RecordNotificationDropped() { globalManager.notifyDropped.Inc() }

// UpdateNotificationQueueSize sets the bus queue depth gauge.
func UpdateNotificationQueueSize(n int) { globalManager.notifyQueueSize.Set(float64(n)) }

// RecordLocationLookup counts a locality lookup by outcome (confirmed,
// unconfirmed, error).
func RecordLocationLookup(outcome string) {
	globalManager.locationLookups.WithLabelValues(outcome).Inc()
}

// RecordLocationFallback counts a default-rate fallback.
func RecordLocationFallback() { globalManager.locationFallbacks.Inc() }

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

// RecordHTTPRequestDuration records HTTP latency in milliseconds.
func RecordHTTPRequestDuration(endpoint, method string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method).Observe(ms)
}

// Handler returns the global scrape handler.
func Handler() http.Handler { return globalManager.Handler() }
