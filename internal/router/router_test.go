package router

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joshp123/gohome-fpp/internal/core"
	"github.com/joshp123/gohome-fpp/internal/rpcdesc"
)

type stubPlugin struct {
	registered bool
}

func (s *stubPlugin) ID() string { return "demo" }
func (s *stubPlugin) Manifest() core.Manifest {
	return core.Manifest{PluginID: "demo", DisplayName: "Demo", Version: "0.1.0"}
}
func (s *stubPlugin) AgentsMD() string                   { return "" }
func (s *stubPlugin) Dashboards() []core.Dashboard       { return nil }
func (s *stubPlugin) RegisterGRPC(*grpc.Server)          { s.registered = true }
func (s *stubPlugin) Collectors() []prometheus.Collector { return nil }
func (s *stubPlugin) Health() core.HealthStatus          { return core.HealthHealthy }
func (s *stubPlugin) HealthMessage() string              { return "" }

func TestRegisterPluginsServesRegistry(t *testing.T) {
	plugin := &stubPlugin{}
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterPlugins(server, []core.Plugin{plugin})
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	if !plugin.registered {
		t.Fatalf("expected plugin RegisterGRPC to be called")
	}

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	out, err := rpcdesc.Invoke(context.Background(), conn, core.RegistryServiceName, "ListPlugins", nil)
	if err != nil {
		t.Fatalf("ListPlugins: %v", err)
	}
	var resp core.ListPluginsResponse
	if err := rpcdesc.Decode(out, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Plugins) != 1 || resp.Plugins[0].PluginID != "demo" {
		t.Fatalf("unexpected plugins: %+v", resp.Plugins)
	}
}
