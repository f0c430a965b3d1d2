package falcon_pi_player

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gohome-fpp/internal/entries"
)

const metricsListTimeout = 5 * time.Second

// MetricsCollector exports cached device state for every FPP entry. It
// never calls the device; values come from the coordinators.
type MetricsCollector struct {
	manager *entries.Manager

	entryState       *prometheus.Desc
	up               *prometheus.Desc
	fppdRunning      *prometheus.Desc
	playing          *prometheus.Desc
	volume           *prometheus.Desc
	secondsPlayed    *prometheus.Desc
	secondsRemaining *prometheus.Desc
	brightness       *prometheus.Desc
	playlists        *prometheus.Desc
	info             *prometheus.Desc
}

func NewMetricsCollector(manager *entries.Manager) *MetricsCollector {
	labels := []string{"entry_id", "title"}
	return &MetricsCollector{
		manager: manager,
		entryState: prometheus.NewDesc("gohome_fpp_entry_state",
			"Config entry lifecycle state (1 for the current state)",
			[]string{"entry_id", "title", "state"}, nil),
		up: prometheus.NewDesc("gohome_fpp_up",
			"Last status refresh success (1=ok, 0=error)", labels, nil),
		fppdRunning: prometheus.NewDesc("gohome_fpp_fppd_running",
			"1 if fppd reports running", labels, nil),
		playing: prometheus.NewDesc("gohome_fpp_playing",
			"1 if a playlist is playing", labels, nil),
		volume: prometheus.NewDesc("gohome_fpp_volume_percent",
			"Device volume (0-100)", labels, nil),
		secondsPlayed: prometheus.NewDesc("gohome_fpp_seconds_played",
			"Seconds played in the current item", labels, nil),
		secondsRemaining: prometheus.NewDesc("gohome_fpp_seconds_remaining",
			"Seconds remaining in the current item", labels, nil),
		brightness: prometheus.NewDesc("gohome_fpp_brightness_percent",
			"Brightness plugin level (0-100)", labels, nil),
		playlists: prometheus.NewDesc("gohome_fpp_playlists",
			"Number of playable playlists", labels, nil),
		info: prometheus.NewDesc("gohome_fpp_info",
			"Device info",
			[]string{"entry_id", "title", "host_name", "version", "mode"}, nil),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entryState
	ch <- c.up
	ch <- c.fppdRunning
	ch <- c.playing
	ch <- c.volume
	ch <- c.secondsPlayed
	ch <- c.secondsRemaining
	ch <- c.brightness
	ch <- c.playlists
	ch <- c.info
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsListTimeout)
	defer cancel()

	all, err := c.manager.ListDomain(ctx, PluginID)
	if err != nil {
		return
	}
	for _, entry := range all {
		ch <- prometheus.MustNewConstMetric(c.entryState, prometheus.GaugeValue, 1, entry.ID, entry.Title, string(entry.State))

		raw, ok := c.manager.Runtime(entry.ID)
		if !ok {
			continue
		}
		rt, ok := raw.(*Runtime)
		if !ok {
			continue
		}
		labels := []string{entry.ID, entry.Title}
		status, success := rt.Status()
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, boolValue(success), labels...)
		if status == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.fppdRunning, prometheus.GaugeValue, boolValue(status.FPPD() == "running"), labels...)
		ch <- prometheus.MustNewConstMetric(c.playing, prometheus.GaugeValue, boolValue(status.StatusName() == "playing"), labels...)
		ch <- prometheus.MustNewConstMetric(c.volume, prometheus.GaugeValue, status.Volume(), labels...)
		ch <- prometheus.MustNewConstMetric(c.secondsPlayed, prometheus.GaugeValue, status.SecondsPlayed(), labels...)
		ch <- prometheus.MustNewConstMetric(c.secondsRemaining, prometheus.GaugeValue, status.SecondsRemaining(), labels...)
		ch <- prometheus.MustNewConstMetric(c.playlists, prometheus.GaugeValue, float64(len(rt.Playlists())), labels...)
		if percent, fresh := rt.Brightness(); fresh {
			ch <- prometheus.MustNewConstMetric(c.brightness, prometheus.GaugeValue, float64(percent), labels...)
		}
		ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
			entry.ID, entry.Title, status.HostName(), status.String("version"), status.String("mode_name"))
	}
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
