package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for certly
type Metrics struct {
	// Rendering
	RendersTotal               *prometheus.CounterVec
	RenderDurationSeconds      *prometheus.HistogramVec
	ElementRenderFailuresTotal *prometheus.CounterVec

	// Archives
	ExportsTotal        *prometheus.CounterVec
	ImportsTotal        *prometheus.CounterVec
	ImportElementsTotal *prometheus.CounterVec

	// Issuance
	IssuesTotal        prometheus.Counter
	VerificationsTotal *prometheus.CounterVec

	// Template lifecycle events
	EventsTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Store gauges
	Templates  prometheus.Gauge
	Activities prometheus.Gauge
	Issued     prometheus.Gauge

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certly_renders_total",
				Help: "Total number of rendered documents",
			},
			[]string{"kind"},
		),
		RenderDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certly_render_duration_seconds",
				Help:    "Document render duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"kind"},
		),
		ElementRenderFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certly_element_render_failures_total",
				Help: "Total number of elements left empty because they failed to render",
			},
			[]string{"type"},
		),

		ExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certly_exports_total",
				Help: "Total number of archive exports",
			},
			[]string{"result"},
		),
		ImportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certly_imports_total",
				Help: "Total number of archive imports",
			},
			[]string{"result"},
		),
		ImportElementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certly_import_elements_total",
				Help: "Total number of elements seen by archive imports",
			},
			[]string{"result"},
		),

		IssuesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "certly_issues_total",
				Help: "Total number of certificates issued",
			},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certly_verifications_total",
				Help: "Total number of verification code lookups",
			},
			[]string{"result"},
		),

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certly_events_total",
				Help: "Total number of template lifecycle events",
			},
			[]string{"type"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certly_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certly_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certly_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		Templates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "certly_templates",
				Help: "Number of stored templates",
			},
		),
		Activities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "certly_activities",
				Help: "Number of certificate activities",
			},
		),
		Issued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "certly_issued_certificates",
				Help: "Number of stored issues",
			},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "certly_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "certly_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "certly_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.RendersTotal,
		m.RenderDurationSeconds,
		m.ElementRenderFailuresTotal,
		m.ExportsTotal,
		m.ImportsTotal,
		m.ImportElementsTotal,
		m.IssuesTotal,
		m.VerificationsTotal,
		m.EventsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.Templates,
		m.Activities,
		m.Issued,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveRender counts a finished render of kind (pdf or markup)
func ObserveRender(kind string, seconds float64) {
	m := Global()
	if m != nil {
		m.RendersTotal.WithLabelValues(kind).Inc()
		m.RenderDurationSeconds.WithLabelValues(kind).Observe(seconds)
	}
}

// IncElementRenderFailure counts an element that rendered empty
func IncElementRenderFailure(elementType string) {
	m := Global()
	if m != nil {
		m.ElementRenderFailuresTotal.WithLabelValues(elementType).Inc()
	}
}

// IncExports counts an archive export
func IncExports(result string) {
	m := Global()
	if m != nil {
		m.ExportsTotal.WithLabelValues(result).Inc()
	}
}

// IncImports counts an archive import
func IncImports(result string) {
	m := Global()
	if m != nil {
		m.ImportsTotal.WithLabelValues(result).Inc()
	}
}

// AddImportElements counts imported, skipped or failed elements
func AddImportElements(result string, n int) {
	m := Global()
	if m != nil && n > 0 {
		m.ImportElementsTotal.WithLabelValues(result).Add(float64(n))
	}
}

// IncIssues counts a newly issued certificate
func IncIssues() {
	m := Global()
	if m != nil {
		m.IssuesTotal.Inc()
	}
}

// IncVerifications counts a verification lookup
func IncVerifications(result string) {
	m := Global()
	if m != nil {
		m.VerificationsTotal.WithLabelValues(result).Inc()
	}
}

// IncEvents counts a template lifecycle event
func IncEvents(eventType string) {
	m := Global()
	if m != nil {
		m.EventsTotal.WithLabelValues(eventType).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
