package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for schedadmin.
type Collector struct {
	Registry *prometheus.Registry

	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	backendUp       prometheus.Gauge
	healthDuration  prometheus.Histogram
	sessionsActive  prometheus.Gauge
	logins          *prometheus.CounterVec
	imports         *prometheus.CounterVec
	exportBytes     prometheus.Counter
}

// New creates all metrics and registers them with a fresh registry.
func New() *Collector {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates all metrics and registers them with reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	c := &Collector{
		Registry: reg,
		backendRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedadmin_backend_requests_total",
				Help: "Requests issued to the schedules API by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schedadmin_backend_request_duration_seconds",
				Help:    "Latency of schedules API requests in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"op"},
		),
		backendUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "schedadmin_backend_up",
				Help: "Health of the schedules API (1=healthy, 0=unhealthy)",
			},
		),
		healthDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "schedadmin_health_check_duration_seconds",
				Help:    "Duration of backend health probes in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "schedadmin_sessions_active",
				Help: "Number of live browser sessions",
			},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedadmin_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		imports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schedadmin_imports_total",
				Help: "Spreadsheet imports by result",
			},
			[]string{"result"},
		),
		exportBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "schedadmin_export_bytes_total",
				Help: "Bytes of exported spreadsheets streamed to browsers",
			},
		),
	}

	reg.MustRegister(
		c.backendRequests,
		c.backendDuration,
		c.backendUp,
		c.healthDuration,
		c.sessionsActive,
		c.logins,
		c.imports,
		c.exportBytes,
	)

	return c
}

// BackendRequest records one schedules API call.
func (c *Collector) BackendRequest(op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.backendRequests.WithLabelValues(op, outcome).Inc()
	c.backendDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetBackendHealth sets the backend health gauge.
func (c *Collector) SetBackendHealth(healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.backendUp.Set(val)
}

// HealthCheckCompleted observes a probe duration.
func (c *Collector) HealthCheckCompleted(d time.Duration) {
	c.healthDuration.Observe(d.Seconds())
}

// SetSessions sets the live session gauge.
func (c *Collector) SetSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// Login counts a login attempt.
func (c *Collector) Login(ok bool) {
	c.logins.WithLabelValues(result(ok)).Inc()
}

// Import counts an import attempt.
func (c *Collector) Import(ok bool) {
	c.imports.WithLabelValues(result(ok)).Inc()
}

// Exported adds streamed export bytes.
func (c *Collector) Exported(n int64) {
	c.exportBytes.Add(float64(n))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
