package router

import (
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-fpp/internal/core"
	"github.com/joshp123/gohome-fpp/internal/rpcdesc"
)

// RegisterPlugins registers plugin services and core services on the gRPC server.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) {
	rpcdesc.MustRegister(server, core.NewRegistryService(plugins).Descriptor())

	for _, p := range plugins {
		p.RegisterGRPC(server)
	}
}
