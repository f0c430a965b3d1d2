package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_coordinator_refresh_total",
			Help: "Coordinator refreshes by result",
		},
		[]string{"coordinator", "result"},
	)
	lastSuccessGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_coordinator_last_success_timestamp_seconds",
			Help: "Last successful coordinator refresh (epoch seconds)",
		},
		[]string{"coordinator"},
	)
	updateSuccessGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_coordinator_last_update_success",
			Help: "Whether the last refresh succeeded (1=ok, 0=error)",
		},
		[]string{"coordinator"},
	)
)

// MetricsCollectors exposes shared coordinator collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshTotal,
		lastSuccessGauge,
		updateSuccessGauge,
	}
}
