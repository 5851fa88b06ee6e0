package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics instruments the API server. A nil instance is valid and
// records nothing.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestsActive  prometheus.Gauge
}

// NewHTTPMetrics creates HTTP instrumentation, or nil when metrics are
// disabled.
func NewHTTPMetrics() *HTTPMetrics {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}

	return &HTTPMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixstore_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "pixstore_http_request_duration_milliseconds",
				Help: "Duration of HTTP requests in milliseconds",
				Buckets: []float64{
					5,    // 5ms - lookups
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms - presign round trips
					500,  // 500ms
					1000, // 1s
					5000, // 5s
				},
			},
			[]string{"method", "route"},
		),
		requestsActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "pixstore_http_requests_active",
				Help: "Current number of in-flight HTTP requests",
			},
		),
	}
}

// ObserveRequest records one completed request.
func (m *HTTPMetrics) ObserveRequest(method, route string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds() * 1000)
}

// RecordActive tracks in-flight requests.
func (m *HTTPMetrics) RecordActive(delta int) {
	if m == nil {
		return
	}
	m.requestsActive.Add(float64(delta))
}
