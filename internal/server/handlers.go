package server

import (
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/core"
)

// HealthReporter is the plugin health surface /health reports on.
type HealthReporter interface {
	ID() string
	Health() core.HealthStatus
	HealthMessage() string
}

type pluginHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Plugins map[string]pluginHealth `json:"plugins"`
}

// HealthHandler reports process liveness plus per-plugin health. Only a
// plugin in ERROR turns the response into a 503; degraded plugins keep the
// hub live.
func HealthHandler(reporters []HealthReporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok", Plugins: make(map[string]pluginHealth, len(reporters))}
		code := http.StatusOK
		for _, r := range reporters {
			status := r.Health()
			resp.Plugins[r.ID()] = pluginHealth{Status: string(status), Message: r.HealthMessage()}
			if status == core.HealthError {
				resp.Status = "error"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, resp)
	})
}

// MetricsHandler exposes the Prometheus registry. Collection errors are
// logged and the remaining metrics still served.
func MetricsHandler(registry *prometheus.Registry, logger logrus.FieldLogger) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:      logger.WithField("component", "metrics"),
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      registry,
	})
}

// DashboardsHandler serves dashboard JSON from an in-memory map keyed by
// URL path. GET /dashboards/ lists the available paths.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	index := make([]string, 0, len(dashboards))
	for path := range dashboards {
		index = append(index, path)
	}
	sort.Strings(index)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dashboards/" {
			writeJSON(w, http.StatusOK, map[string][]string{"dashboards": index})
			return
		}
		data, ok := dashboards[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
