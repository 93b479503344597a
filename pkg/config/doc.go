// Package config loads and validates the configuration of the heat map
// server and reporter.
//
// # Sources
//
// Defaults are overlaid by an optional YAML file named by HEATMAP_CONFIG_FILE,
// which is in turn overlaid by HEATMAP_* environment variables.
//
//	server:
//	  port: "8080"
//	  health_port: "9090"
//	storage:
//	  type: postgres
//	  postgres_url: postgres://heatmap@db/heatmap
//	  redis_url: redis://cache:6379
//	reporter:
//	  schedule: "0 3 * * *"
//	  cutoff_days: 30
//	  s3:
//	    bucket: heatmap-reports
//
// # Environment Variables
//
// Server:
//
//	HEATMAP_HOST, HEATMAP_PORT, HEATMAP_HEALTH_PORT
//	HEATMAP_READ_TIMEOUT, HEATMAP_WRITE_TIMEOUT, HEATMAP_IDLE_TIMEOUT, HEATMAP_SHUTDOWN_TIMEOUT
//	HEATMAP_MAX_WINDOW, HEATMAP_MAX_BODY_BYTES, HEATMAP_CORS_ALLOWED_ORIGINS
//
// Storage and cache:
//
//	HEATMAP_STORAGE_TYPE  # sqlite, postgres
//	HEATMAP_SQLITE_PATH, HEATMAP_POSTGRES_URL, HEATMAP_POSTGRES_MAX_CONNS
//	HEATMAP_REDIS_URL, HEATMAP_REDIS_PASSWORD, HEATMAP_REDIS_DB, HEATMAP_REDIS_POOL_SIZE
//	HEATMAP_CACHE_ENABLED, HEATMAP_L1_CACHE_SIZE
//	HEATMAP_CACHE_TTL_DESCRIPTOR, HEATMAP_CACHE_TTL_MISSING
//
// Rate limiting:
//
//	HEATMAP_RATE_LIMIT_ENABLED, HEATMAP_RATE_LIMIT_REQUESTS
//	HEATMAP_RATE_LIMIT_WINDOW, HEATMAP_RATE_LIMIT_BURST
//
// Reporter:
//
//	HEATMAP_REPORT_SCHEDULE, HEATMAP_REPORT_CUTOFF_DAYS
//	HEATMAP_S3_BUCKET, HEATMAP_S3_REGION, HEATMAP_S3_ENDPOINT, HEATMAP_S3_PREFIX
//	HEATMAP_S3_ACCESS_KEY, HEATMAP_S3_SECRET_KEY, HEATMAP_S3_USE_PATH_STYLE
//
// Observability:
//
//	HEATMAP_LOG_LEVEL  # debug, info, warn, error
//	HEATMAP_METRICS_ENABLED
//	HEATMAP_OTEL_ENABLED, HEATMAP_OTEL_ENDPOINT, HEATMAP_OTEL_SERVICE_NAME
//	HEATMAP_OTEL_INSECURE, HEATMAP_OTEL_SAMPLE_RATIO
package config
