package storage

import (
	"errors"
	"time"
)

const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// ErrUnsupportedType is returned for an unknown storage type.
var ErrUnsupportedType = errors.New("unsupported storage type")

// Config for storage backend
type Config struct {
	Type string `yaml:"type"` // "sqlite" or "postgres"

	// SQLite config
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL config
	PostgresURL      string        `yaml:"postgres_url"`
	PostgresMaxConns int           `yaml:"postgres_max_conns"`
	PostgresMinConns int           `yaml:"postgres_min_conns"`
	PostgresTimeout  time.Duration `yaml:"postgres_timeout"`

	// Redis config
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	// Cache config
	CacheEnabled bool                     `yaml:"cache_enabled"`
	CacheTTL     map[string]time.Duration `yaml:"cache_ttl"`
	L1CacheSize  int                      `yaml:"l1_cache_size"` // entries
}

// Cache TTL keys
const (
	TTLDescriptor        = "descriptor"
	TTLMissingDescriptor = "descriptor_missing"
)

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             TypeSQLite,
		SQLitePath:       "heatmap.db",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			TTLDescriptor:        15 * time.Minute,
			TTLMissingDescriptor: 1 * time.Minute,
		},
		L1CacheSize: 1000,
	}
}

// TTL returns the configured TTL for key, falling back to the default.
func (c Config) TTL(key string) time.Duration {
	if ttl, ok := c.CacheTTL[key]; ok && ttl > 0 {
		return ttl
	}
	return DefaultConfig().CacheTTL[key]
}
