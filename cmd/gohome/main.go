package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-fpp/internal/config"
	"github.com/joshp123/gohome-fpp/internal/coordinator"
	"github.com/joshp123/gohome-fpp/internal/core"
	"github.com/joshp123/gohome-fpp/internal/entity"
	"github.com/joshp123/gohome-fpp/internal/entries"
	"github.com/joshp123/gohome-fpp/internal/httpsession"
	"github.com/joshp123/gohome-fpp/internal/logging"
	"github.com/joshp123/gohome-fpp/internal/mqttbridge"
	"github.com/joshp123/gohome-fpp/internal/plugins"
	"github.com/joshp123/gohome-fpp/internal/router"
	"github.com/joshp123/gohome-fpp/internal/server"
	"github.com/joshp123/gohome-fpp/internal/zeroconf"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	configPath := envOrDefault("GOHOME_CONFIG", config.DefaultPath)
	cfg, found, err := config.LoadOrDefault(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.Core.GRPCAddr = envOrDefault("GOHOME_GRPC_ADDR", cfg.Core.GRPCAddr)
	cfg.Core.HTTPAddr = envOrDefault("GOHOME_HTTP_ADDR", cfg.Core.HTTPAddr)

	logger, err := logging.New(cfg.Core.LogLevel, cfg.Core.LogFormat, os.Stderr)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	if !found {
		logger.WithField("path", configPath).Warn("config file not found, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("gohome exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Core.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	store, err := entries.NewSQLiteStore(cfg.Core.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var mirror entries.Mirror
	if cfg.Blob != nil {
		s3, err := entries.NewS3Mirror(cfg.Blob)
		if err != nil {
			return err
		}
		mirror = s3
	}

	retry := config.DefaultRetrySecs
	if cfg.FalconPiPlayer != nil {
		retry = cfg.FalconPiPlayer.SetupRetrySeconds
	}
	manager := entries.NewManager(store, entries.ManagerOptions{
		Mirror:        mirror,
		Logger:        logger.WithField("component", "entries"),
		RetryInterval: time.Duration(retry) * time.Second,
	})

	registry := entity.NewRegistry()
	sessions := httpsession.NewPool()
	defer sessions.Close()

	host := core.Host{Entries: manager, Entities: registry, Sessions: sessions, Logger: logger}
	compiled := plugins.Compiled(cfg, host)
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, false); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, false)
	if err := core.ValidatePlugins(active); err != nil {
		return fmt.Errorf("plugin validation: %w", err)
	}
	for _, p := range active {
		logger.WithField("plugin", p.ID()).Info("plugin enabled")
	}

	if err := manager.Restore(ctx); err != nil {
		return err
	}
	if err := manager.SetupAll(ctx); err != nil {
		return fmt.Errorf("setup entries: %w", err)
	}
	importDevices(ctx, active, logger)

	if n, err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		logger.WithError(err).Warn("write dashboards failed")
	} else if n > 0 {
		logger.WithFields(logrus.Fields{"dir": cfg.Core.DashboardDir, "count": n}).Info("dashboards provisioned")
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger.WithField("component", "grpc"))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	router.RegisterPlugins(grpcServer.Server, active)

	shared := append(coordinator.MetricsCollectors(), httpsession.MetricsCollectors()...)
	shared = append(shared, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gohome_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	metricsRegistry := core.MetricsRegistry(active, shared...)

	reporters := make([]server.HealthReporter, 0, len(active))
	for _, p := range active {
		reporters = append(reporters, p)
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/health", server.HealthHandler(reporters))
	httpMux.Handle("/metrics", server.MetricsHandler(metricsRegistry, logger))
	httpMux.Handle("/dashboards/", server.DashboardsHandler(core.DashboardsMap(active)))
	server.RegisterEntityRoutes(httpMux, registry, logger.WithField("component", "http"))
	for _, p := range active {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(httpMux)
		}
	}
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, httpMux)

	if cfg.MQTT != nil {
		bridge, err := mqttbridge.New(cfg.MQTT, registry, logger)
		if err != nil {
			return err
		}
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer bridge.Close()
	}

	var workers []func(context.Context)
	if cfg.Discovery.On() {
		workers = append(workers, func(ctx context.Context) {
			browse(ctx, cfg.Discovery, active, logger)
		})
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", cfg.Core.HTTPAddr).Info("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		logger.WithField("addr", cfg.Core.GRPCAddr).Info("grpc listening")
		if err := grpcServer.Serve(); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	return supervise(ctx, stop, errCh, workers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http shutdown")
		}
		grpcServer.Server.GracefulStop()
		manager.Close(shutdownCtx)
	}, logger)
}

// supervise runs workers until ctx is done or a server reports an error.
// It then cancels the workers, runs shutdown and waits for the workers to
// return. The first server error is returned.
func supervise(ctx context.Context, stop context.CancelFunc, errCh <-chan error, workers []func(context.Context), shutdown func(), logger logrus.FieldLogger) error {
	var wg sync.WaitGroup
	for _, work := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			work(ctx)
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.WithError(serveErr).Error("server failed, shutting down")
	}

	stop()
	shutdown()
	wg.Wait()
	return serveErr
}

func importDevices(ctx context.Context, active []core.Plugin, logger logrus.FieldLogger) {
	for _, p := range active {
		importer, ok := p.(core.Importer)
		if !ok {
			continue
		}
		created, err := importer.Import(ctx)
		if err != nil {
			logger.WithError(err).WithField("plugin", p.ID()).Warn("import devices failed")
		}
		for _, entry := range created {
			logger.WithFields(logrus.Fields{
				"plugin":   p.ID(),
				"entry_id": entry.ID,
				"title":    entry.Title,
				"state":    entry.State,
			}).Info("imported device")
		}
	}
}

func browse(ctx context.Context, cfg *config.DiscoveryConfig, active []core.Plugin, logger *logrus.Logger) {
	var handlers []core.DiscoveryHandler
	for _, p := range active {
		if h, ok := p.(core.DiscoveryHandler); ok {
			handlers = append(handlers, h)
		}
	}
	if len(handlers) == 0 {
		return
	}

	browser := zeroconf.NewBrowser(zeroconf.Options{
		Service:  cfg.Service,
		Interval: time.Duration(cfg.BrowseIntervalSeconds) * time.Second,
		Logger:   logger.WithField("component", "zeroconf"),
	})
	err := browser.Run(ctx, func(info zeroconf.ServiceInfo) {
		for _, h := range handlers {
			h.HandleDiscovery(ctx, info)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("zeroconf browser stopped")
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
