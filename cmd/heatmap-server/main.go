package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/api"
	"github.com/debjordan/ModuleHeatmap/pkg/config"
	"github.com/debjordan/ModuleHeatmap/pkg/middleware"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
	"github.com/debjordan/ModuleHeatmap/pkg/storage"
	"github.com/debjordan/ModuleHeatmap/pkg/storage/cache"
	"github.com/debjordan/ModuleHeatmap/pkg/storage/sqlstore"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides "+config.EnvConfigFile+")")
	flag.Parse()

	if *configFile != "" {
		os.Setenv(config.EnvConfigFile, *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", api.ServiceName).
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Module heat map server failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	otelCfg := cfg.Observability.OTel
	otelCfg.ServiceVersion = version
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
	}

	store, err := sqlstore.Open(ctx, cfg.Storage, metrics)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	logger.WithField("backend", store.Backend()).Info("Storage initialized")

	var rdb *redis.Client
	if cfg.Storage.RedisURL != "" {
		rdb, err = storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			// Redis only backs the cache and the shared rate limit; both degrade.
			logger.WithError(err).Warn("Redis unavailable, continuing with in-process cache and rate limiting")
			rdb = nil
		}
	}

	var modules analytics.ModuleRegistry = store
	if cfg.Storage.CacheEnabled {
		modules = cache.NewRegistry(store, rdb, cfg.Storage, logger, metrics)
	}

	service := analytics.NewService(store, modules, logger, metrics)
	tracker := analytics.NewTracker(store, logger, metrics)
	health := observability.NewHealthChecker(store.DB(), rdb, version)

	var rateLimit *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		limitCfg := cfg.RateLimit.RateLimitConfig
		memory := middleware.NewRateLimiter(&limitCfg)
		cleanupCtx, stopCleanup := context.WithCancel(ctx)
		defer stopCleanup()
		memory.StartCleanup(cleanupCtx)

		var primary middleware.Limiter = memory
		var fallback middleware.Limiter
		if rdb != nil {
			primary = middleware.NewDistributedRateLimiter(rdb, &limitCfg, "heatmap:ratelimit")
			fallback = memory
		}
		rateLimit = middleware.NewRateLimitMiddleware(primary, fallback, logger, metrics)
	}

	opts := api.Options{
		Service:      service,
		Tracker:      tracker,
		Registry:     modules,
		RateLimit:    rateLimit,
		Metrics:      metrics,
		Logger:       logger,
		MaxWindow:    cfg.Server.MaxWindow,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Version:      version,
		Tracing:      otelCfg.Enabled,
		CORSOrigins:  cfg.Server.CORSAllowedOrigins,
	}

	// Probes and metrics live on the health port when one is configured.
	var healthServer *http.Server
	if cfg.Server.HealthPort != "" {
		healthRouter := mux.NewRouter()
		observability.RegisterHealthRoutes(healthRouter, health)
		if registry != nil {
			observability.RegisterMetricsEndpoint(healthRouter, registry)
		}
		healthServer = &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
			Handler: healthRouter,
		}
	} else {
		opts.Health = health
		opts.MetricsRegistry = registry
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)
	shutdown.RegisterShutdownFunc("storage", func(context.Context) error {
		return store.Close()
	})
	if rdb != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return rdb.Close()
		})
	}
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveErr := make(chan error, 2)

	listen := func(name string, srv *http.Server) {
		go func() {
			defer observability.RecoverPanic(logger, name)
			logger.WithField("addr", srv.Addr).Infof("Starting %s", name)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}
	listen("HTTP server", server)
	if healthServer != nil {
		listen("health server", healthServer)
	}

	if err := shutdown.WaitForShutdown(serveCtx); err != nil {
		return err
	}

	select {
	case err := <-serveErr:
		return err
	default:
		logger.Info("Server stopped")
		return nil
	}
}
