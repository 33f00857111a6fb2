// Package observability provides structured logging, Prometheus metrics,
// health probes, graceful shutdown and OpenTelemetry tracing for padron.
//
// # Structured Logging
//
// Loggers write one JSON object per line through logrus:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("role_id", id).Info("Role deleted")
//
// RequestLoggingMiddleware stores a request-scoped logger in the context;
// handlers retrieve it with FromContext, which adds request_id and username.
//
// # Prometheus Metrics
//
// A nil *Metrics is valid, so components accept metrics optionally:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordResolution("ok", elapsed)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version, redisClient).
//		AddDatabase("role_store", roleDB, "SELECT 1").
//		AddDatabase("registry", registryDB, "")
//
// The role store and registry are required; redis only degrades readiness.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
package observability
