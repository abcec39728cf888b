// Package metrics exposes Prometheus instrumentation for the crawler:
// request outcomes, block classifications, limiter posture, job runs
// and snapshot writes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the crawler updates. Construct once
// and share; all collectors are safe for concurrent use.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	BlocksTotal     *prometheus.CounterVec

	RateLimitMultiplier prometheus.Gauge
	CircuitState        prometheus.Gauge
	ProxiesAvailable    prometheus.Gauge

	JobsTotal        *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	ListingsUpserted prometheus.Counter
	SnapshotsWritten *prometheus.CounterVec
}

// Request outcomes for RequestsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeBlocked = "blocked"
)

// Circuit gauge values.
const (
	CircuitGaugeClosed   = 0
	CircuitGaugeHalfOpen = 1
	CircuitGaugeOpen     = 2
)

// New registers all collectors with reg and returns them. A nil reg
// uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stayscan_requests_total",
			Help: "Upstream API requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stayscan_request_duration_seconds",
			Help:    "Upstream API request duration, including limiter wait.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"operation"}),
		BlocksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stayscan_blocks_total",
			Help: "Detected anti-automation blocks by classification.",
		}, []string{"type"}),
		RateLimitMultiplier: f.NewGauge(prometheus.GaugeOpts{
			Name: "stayscan_rate_limit_multiplier",
			Help: "Current adaptive delay multiplier.",
		}),
		CircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "stayscan_circuit_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		ProxiesAvailable: f.NewGauge(prometheus.GaugeOpts{
			Name: "stayscan_proxies_available",
			Help: "Proxy endpoints currently outside cooldown.",
		}),
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stayscan_jobs_total",
			Help: "Crawl job runs by type and final status.",
		}, []string{"job_type", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stayscan_job_duration_seconds",
			Help:    "Crawl job wall time by type.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		}, []string{"job_type"}),
		ListingsUpserted: f.NewCounter(prometheus.CounterOpts{
			Name: "stayscan_listings_upserted_total",
			Help: "Listings inserted or refreshed from search results.",
		}),
		SnapshotsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stayscan_snapshots_written_total",
			Help: "Snapshot rows written by kind (search or calendar).",
		}, []string{"kind"}),
	}
}

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
