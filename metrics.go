package fetchkit

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for the request pipeline.
// Safe for concurrent use. Nil disables collection.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	forwardsTotal   *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchkit_requests_total",
				Help: "Logical requests completed, by method and status code.",
			},
			[]string{"method", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetchkit_request_duration_seconds",
				Help:    "Logical request duration, including all attempts.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchkit_retries_total",
				Help: "Retry attempts scheduled, by method.",
			},
			[]string{"method"},
		),
		forwardsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchkit_forwards_total",
				Help: "Forwarder endpoint outcomes.",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) observeRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) observeRetry(method string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) observeForwards(succeeded, failed int) {
	if m == nil {
		return
	}
	m.forwardsTotal.WithLabelValues("success").Add(float64(succeeded))
	m.forwardsTotal.WithLabelValues("failure").Add(float64(failed))
}
