package falcon_pi_player

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-fpp/internal/config"
	"github.com/joshp123/gohome-fpp/internal/core"
	"github.com/joshp123/gohome-fpp/internal/entries"
	"github.com/joshp123/gohome-fpp/internal/zeroconf"
)

// PluginID is also the config entry domain.
const PluginID = "falcon_pi_player"

const healthTimeout = 5 * time.Second

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

// Plugin implements the GoHome plugin contract.
type Plugin struct {
	cfg         Config
	host        core.Host
	integration *Integration
	flow        *ConfigFlow

	health        core.HealthStatus
	healthMessage string
}

// NewPlugin constructs the FPP plugin and registers its integration with
// the entry manager.
func NewPlugin(cfg Config, host core.Host) *Plugin {
	if host.Logger == nil {
		host.Logger = logrus.StandardLogger()
	}
	logger := host.Logger.WithField("plugin", PluginID)
	integration := NewIntegration(host.Entities, host.Sessions, logger)
	if host.Entries != nil {
		host.Entries.RegisterIntegration(integration)
	}
	return &Plugin{
		cfg:         cfg,
		host:        host,
		integration: integration,
		flow:        NewConfigFlow(host.Entries, integration, cfg.AutoConfirm, logger),
		health:      core.HealthHealthy,
	}
}

// errorPlugin reports a config problem through the registry.
func errorPlugin(err error) *Plugin {
	return &Plugin{health: core.HealthError, healthMessage: err.Error()}
}

func (p *Plugin) ID() string {
	return PluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    PluginID,
		DisplayName: "Falcon Pi Player",
		Version:     "0.1.0",
		Services:    []string{ServiceFullName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "fpp-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) {
	if p.flow == nil {
		return
	}
	RegisterFalconPiPlayerService(server, p.host.Entries, p.host.Entities, p.flow)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.host.Entries == nil {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p.host.Entries)}
}

// ConfigFlow exposes the flow for startup import and discovery.
func (p *Plugin) ConfigFlow() *ConfigFlow {
	return p.flow
}

// Import creates entries for the devices in the config file.
func (p *Plugin) Import(ctx context.Context) ([]entries.Entry, error) {
	if p.flow == nil {
		return nil, nil
	}
	return p.flow.Import(ctx, p.cfg.Devices)
}

// HandleDiscovery feeds an mDNS announcement into the config flow.
// Expected aborts are not errors.
func (p *Plugin) HandleDiscovery(ctx context.Context, info zeroconf.ServiceInfo) {
	if p.flow == nil {
		return
	}
	logger := p.host.Logger.WithFields(logrus.Fields{"plugin": PluginID, "instance": info.Instance, "address": info.Address()})
	if _, err := p.flow.Zeroconf(ctx, info); err != nil {
		switch ReasonOf(err) {
		case ReasonAlreadyConfigured, ReasonCannotConnect:
			logger.WithField("reason", ReasonOf(err)).Debug("discovery aborted")
		default:
			logger.WithError(err).Warn("discovery failed")
		}
	}
}

// Health is derived from entry states: any entry needing attention
// degrades the plugin.
func (p *Plugin) Health() core.HealthStatus {
	health, _ := p.evaluate()
	return health
}

func (p *Plugin) HealthMessage() string {
	_, msg := p.evaluate()
	return msg
}

func (p *Plugin) evaluate() (core.HealthStatus, string) {
	if p.health == core.HealthError || p.host.Entries == nil {
		return p.health, p.healthMessage
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	all, err := p.host.Entries.ListDomain(ctx, PluginID)
	if err != nil {
		return core.HealthError, fmt.Sprintf("list entries: %v", err)
	}

	var problems []string
	for _, entry := range all {
		if entry.State != entries.StateLoaded {
			problems = append(problems, fmt.Sprintf("%s: %s", entry.Title, entry.State))
		}
	}
	if len(problems) == 0 {
		return core.HealthHealthy, ""
	}
	sort.Strings(problems)
	return core.HealthDegraded, strings.Join(problems, "; ")
}

// Factory builds the plugin when the config has a falcon_pi_player table.
func Factory(cfg *config.Config, host core.Host) (core.Plugin, bool) {
	if cfg == nil || cfg.FalconPiPlayer == nil {
		return nil, false
	}
	runtimeCfg, err := ConfigFromFile(cfg)
	if err != nil {
		return errorPlugin(err), true
	}
	return NewPlugin(runtimeCfg, host), true
}
