package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics считает запросы HTTP API.
type HTTPMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// NewHTTPMetrics регистрирует метрики HTTP API в переданном registerer.
func NewHTTPMetrics(registerer prometheus.Registerer) *HTTPMetrics {
	registerer = orDefault(registerer)

	return &HTTPMetrics{
		requests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordering_http_requests_total",
			Help: "Total number of HTTP requests grouped by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ordering_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordering_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		}),
	}
}

// Started отмечает начало обработки запроса.
func (m *HTTPMetrics) Started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// Finished записывает результат обработки запроса.
func (m *HTTPMetrics) Finished(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
