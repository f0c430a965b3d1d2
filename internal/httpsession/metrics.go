package httpsession

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_http_requests_total",
			Help: "Outbound device requests by host and result",
		},
		[]string{"host", "result"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_http_last_status_code",
			Help: "Last HTTP status code observed per device host",
		},
		[]string{"host"},
	)
	durationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gohome_http_request_duration_seconds",
			Help:    "Outbound device request latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"host"},
	)
)

// MetricsCollectors exposes shared session collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		requestsTotal,
		lastStatusGauge,
		durationHistogram,
	}
}
