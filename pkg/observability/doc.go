// Package observability provides structured logging, Prometheus metrics,
// health checks, graceful shutdown and OpenTelemetry tracing for the heat
// map service and reporter.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("application_id", appID).Info("heat map computed")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger.WithField("request_id", id))
//	observability.FromContext(ctx).Warn("descriptor lookup failed")
//
// # Prometheus Metrics
//
// Metrics registers every collector on the given registry. All helper methods
// are safe on a nil *Metrics so components can run without instrumentation:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveAggregation("heatmap", started, len(events), err)
//	observability.RegisterMetricsEndpoint(router, registry)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// A Redis failure reports "degraded" and keeps readiness at 200; a database
// failure reports "unhealthy" and 503.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg.OTel, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//	handler = observability.TracingMiddleware("heatmap")(handler)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/httputil: request logging middleware
package observability
