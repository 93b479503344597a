package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/middleware"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
	"github.com/debjordan/ModuleHeatmap/pkg/report"
	"github.com/debjordan/ModuleHeatmap/pkg/storage"
)

// EnvConfigFile names the optional YAML configuration file.
const EnvConfigFile = "HEATMAP_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Reporter      ReporterConfig      `yaml:"reporter"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server on its own port; empty serves them on Port.
	HealthPort string `yaml:"health_port"`

	// Longest analytics window accepted over HTTP.
	MaxWindow    time.Duration `yaml:"max_window"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`

	// Browser origins allowed to call the API; empty disables CORS.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// RateLimitConfig holds the tracking rate limit.
type RateLimitConfig struct {
	Enabled                    bool `yaml:"enabled"`
	middleware.RateLimitConfig `yaml:",inline"`
}

// ReporterConfig holds the unused-module sweep settings.
type ReporterConfig struct {
	Schedule   string          `yaml:"schedule"` // standard 5-field cron
	CutoffDays int             `yaml:"cutoff_days"`
	S3         report.S3Config `yaml:"s3"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string                   `yaml:"log_level"`
	MetricsEnabled bool                     `yaml:"metrics_enabled"`
	OTel           observability.OTelConfig `yaml:"otel"`
}

// Level returns the parsed log level.
func (o ObservabilityConfig) Level() observability.LogLevel {
	level, _ := parseLogLevel(o.LogLevel)
	return level
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxWindow:          366 * 24 * time.Hour,
			MaxBodyBytes:       1 << 20,
			CORSAllowedOrigins: []string{"*"},
		},
		Storage: storage.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:         true,
			RateLimitConfig: *middleware.DefaultRateLimitConfig(),
		},
		Reporter: ReporterConfig{
			Schedule:   "0 3 * * *",
			CutoffDays: analytics.DefaultUnusedDays,
			S3:         report.S3Config{Region: "us-east-1"},
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
			OTel: observability.OTelConfig{
				Endpoint:    "localhost:4317",
				ServiceName: "module-heatmap",
				Insecure:    true,
				SampleRatio: 1,
			},
		},
	}
}

// LoadConfig loads configuration from the optional YAML file named by
// HEATMAP_CONFIG_FILE, then applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	loadServerConfig(&cfg.Server)
	loadStorageConfig(&cfg.Storage)
	loadRateLimitConfig(&cfg.RateLimit)
	loadReporterConfig(&cfg.Reporter)
	loadObservabilityConfig(&cfg.Observability)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile decodes a YAML file over cfg. Unknown keys are rejected.
func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadServerConfig(cfg *ServerConfig) {
	cfg.Host = getEnv("HEATMAP_HOST", cfg.Host)
	cfg.Port = getEnv("HEATMAP_PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("HEATMAP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("HEATMAP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("HEATMAP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvDuration("HEATMAP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.HealthPort = getEnv("HEATMAP_HEALTH_PORT", cfg.HealthPort)
	cfg.MaxWindow = getEnvDuration("HEATMAP_MAX_WINDOW", cfg.MaxWindow)
	cfg.MaxBodyBytes = getEnvInt64("HEATMAP_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.CORSAllowedOrigins = getEnvList("HEATMAP_CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
}

func loadStorageConfig(cfg *storage.Config) {
	cfg.Type = getEnv("HEATMAP_STORAGE_TYPE", cfg.Type)
	cfg.SQLitePath = getEnv("HEATMAP_SQLITE_PATH", cfg.SQLitePath)

	// PostgreSQL config
	cfg.PostgresURL = getEnv("HEATMAP_POSTGRES_URL", cfg.PostgresURL)
	if maxConns := getEnvInt("HEATMAP_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("HEATMAP_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("HEATMAP_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	cfg.RedisURL = getEnv("HEATMAP_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("HEATMAP_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("HEATMAP_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if retries := getEnvInt("HEATMAP_REDIS_MAX_RETRIES", 0); retries > 0 {
		cfg.RedisMaxRetries = retries
	}
	if poolSize := getEnvInt("HEATMAP_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("HEATMAP_CACHE_ENABLED", cfg.CacheEnabled)
	if size := getEnvInt("HEATMAP_L1_CACHE_SIZE", 0); size > 0 {
		cfg.L1CacheSize = size
	}
	if ttl := getEnvDuration("HEATMAP_CACHE_TTL_DESCRIPTOR", 0); ttl > 0 {
		setTTL(cfg, storage.TTLDescriptor, ttl)
	}
	if ttl := getEnvDuration("HEATMAP_CACHE_TTL_MISSING", 0); ttl > 0 {
		setTTL(cfg, storage.TTLMissingDescriptor, ttl)
	}
}

func setTTL(cfg *storage.Config, key string, ttl time.Duration) {
	if cfg.CacheTTL == nil {
		cfg.CacheTTL = make(map[string]time.Duration)
	}
	cfg.CacheTTL[key] = ttl
}

func loadRateLimitConfig(cfg *RateLimitConfig) {
	cfg.Enabled = getEnvBool("HEATMAP_RATE_LIMIT_ENABLED", cfg.Enabled)
	cfg.RequestsPerWindow = getEnvInt("HEATMAP_RATE_LIMIT_REQUESTS", cfg.RequestsPerWindow)
	cfg.WindowDuration = getEnvDuration("HEATMAP_RATE_LIMIT_WINDOW", cfg.WindowDuration)
	cfg.BurstSize = getEnvInt("HEATMAP_RATE_LIMIT_BURST", cfg.BurstSize)
}

func loadReporterConfig(cfg *ReporterConfig) {
	cfg.Schedule = getEnv("HEATMAP_REPORT_SCHEDULE", cfg.Schedule)
	cfg.CutoffDays = getEnvInt("HEATMAP_REPORT_CUTOFF_DAYS", cfg.CutoffDays)

	cfg.S3.Bucket = getEnv("HEATMAP_S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = getEnv("HEATMAP_S3_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = getEnv("HEATMAP_S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.Prefix = getEnv("HEATMAP_S3_PREFIX", cfg.S3.Prefix)
	cfg.S3.AccessKeyID = getEnv("HEATMAP_S3_ACCESS_KEY", cfg.S3.AccessKeyID)
	cfg.S3.SecretAccessKey = getEnv("HEATMAP_S3_SECRET_KEY", cfg.S3.SecretAccessKey)
	cfg.S3.UsePathStyle = getEnvBool("HEATMAP_S3_USE_PATH_STYLE", cfg.S3.UsePathStyle)
}

func loadObservabilityConfig(cfg *ObservabilityConfig) {
	cfg.LogLevel = getEnv("HEATMAP_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsEnabled = getEnvBool("HEATMAP_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTel.Enabled = getEnvBool("HEATMAP_OTEL_ENABLED", cfg.OTel.Enabled)
	cfg.OTel.Endpoint = getEnv("HEATMAP_OTEL_ENDPOINT", cfg.OTel.Endpoint)
	cfg.OTel.ServiceName = getEnv("HEATMAP_OTEL_SERVICE_NAME", cfg.OTel.ServiceName)
	cfg.OTel.Insecure = getEnvBool("HEATMAP_OTEL_INSECURE", cfg.OTel.Insecure)
	cfg.OTel.SampleRatio = getEnvFloat("HEATMAP_OTEL_SAMPLE_RATIO", cfg.OTel.SampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort != "" && c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxWindow <= 0 {
		return fmt.Errorf("max window must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case storage.TypeSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case storage.TypePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("%w: %q (must be sqlite or postgres)", storage.ErrUnsupportedType, c.Storage.Type)
	}
	if c.Storage.CacheEnabled && c.Storage.L1CacheSize <= 0 {
		return fmt.Errorf("L1 cache size must be positive when the cache is enabled")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 || c.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("rate limit requests, window and burst must be positive when enabled")
		}
	}

	if _, err := cron.ParseStandard(c.Reporter.Schedule); err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", c.Reporter.Schedule, err)
	}
	if c.Reporter.CutoffDays <= 0 {
		return fmt.Errorf("report cutoff days must be positive")
	}
	if c.Reporter.S3.Enabled() && c.Reporter.S3.Region == "" {
		return fmt.Errorf("S3 region is required when a report bucket is set")
	}

	if _, err := parseLogLevel(c.Observability.LogLevel); err != nil {
		return err
	}

	// Validate OpenTelemetry config
	otelCfg := c.Observability.OTel
	if otelCfg.Enabled {
		if otelCfg.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if otelCfg.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if otelCfg.SampleRatio < 0 || otelCfg.SampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

// parseLogLevel parses a log level string; empty means info.
func parseLogLevel(level string) (observability.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel, nil
	case "info", "":
		return observability.InfoLevel, nil
	case "warn", "warning":
		return observability.WarnLevel, nil
	case "error":
		return observability.ErrorLevel, nil
	default:
		return observability.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable; "none" clears the list.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if strings.EqualFold(value, "none") {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
