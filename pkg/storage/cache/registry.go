// Package cache puts a two-tier cache in front of a module registry.
//
// Lookups go to an in-process expirable LRU first, then Redis when
// configured, then the backing registry. Writes go through to the backing
// registry and invalidate both tiers. Only registry metadata is cached;
// derived analytics are always recomputed.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
	"github.com/debjordan/ModuleHeatmap/pkg/storage"
)

const (
	tierL1 = "l1"
	tierL2 = "l2"

	keyPrefix = "heatmap:descriptor:"
)

// Registry is a cached analytics.ModuleRegistry.
type Registry struct {
	backing analytics.ModuleRegistry
	redis   *redis.Client
	found   *lru.LRU[string, analytics.ModuleDescriptor]
	missing *lru.LRU[string, struct{}]
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

var _ analytics.ModuleRegistry = (*Registry)(nil)

// NewRegistry wraps backing. rdb may be nil to run with the L1 tier only.
func NewRegistry(backing analytics.ModuleRegistry, rdb *redis.Client, config storage.Config, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	size := config.L1CacheSize
	if size <= 0 {
		size = storage.DefaultConfig().L1CacheSize
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ttl := config.TTL(storage.TTLDescriptor)

	return &Registry{
		backing: backing,
		redis:   rdb,
		found:   lru.NewLRU[string, analytics.ModuleDescriptor](size, nil, ttl),
		missing: lru.NewLRU[string, struct{}](size, nil, config.TTL(storage.TTLMissingDescriptor)),
		ttl:     ttl,
		logger:  logger.WithField("component", "descriptor_cache"),
		metrics: metrics,
	}
}

func cacheKey(applicationID, name string) string {
	return applicationID + "\x00" + name
}

func redisKey(applicationID, name string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, applicationID, name)
}

// FetchModuleDescriptor returns nil, nil when the module is not registered.
func (r *Registry) FetchModuleDescriptor(ctx context.Context, applicationID, name string) (*analytics.ModuleDescriptor, error) {
	key := cacheKey(applicationID, name)

	if d, ok := r.found.Get(key); ok {
		r.metrics.CacheHit(tierL1)
		return &d, nil
	}
	if _, ok := r.missing.Get(key); ok {
		r.metrics.CacheHit(tierL1)
		return nil, nil
	}
	r.metrics.CacheMiss(tierL1)

	if d := r.getRemote(ctx, applicationID, name); d != nil {
		r.found.Add(key, *d)
		return d, nil
	}

	d, err := r.backing.FetchModuleDescriptor(ctx, applicationID, name)
	if err != nil {
		return nil, err
	}
	if d == nil {
		r.missing.Add(key, struct{}{})
		return nil, nil
	}

	r.found.Add(key, *d)
	r.setRemote(ctx, d)
	return d, nil
}

// UpsertModuleDescriptor writes through and invalidates both tiers.
func (r *Registry) UpsertModuleDescriptor(ctx context.Context, d *analytics.ModuleDescriptor) error {
	if err := r.backing.UpsertModuleDescriptor(ctx, d); err != nil {
		return err
	}
	r.Invalidate(ctx, d.ApplicationID, d.Name)
	return nil
}

// ListModuleDescriptors is not cached.
func (r *Registry) ListModuleDescriptors(ctx context.Context, applicationID string) ([]analytics.ModuleDescriptor, error) {
	return r.backing.ListModuleDescriptors(ctx, applicationID)
}

// Invalidate drops a descriptor from both tiers.
func (r *Registry) Invalidate(ctx context.Context, applicationID, name string) {
	key := cacheKey(applicationID, name)
	r.found.Remove(key)
	r.missing.Remove(key)

	if r.redis == nil {
		return
	}
	if err := r.redis.Del(ctx, redisKey(applicationID, name)).Err(); err != nil {
		r.metrics.CacheError(tierL2, "del")
		r.logger.WithError(err).WithField("module", name).Warn("failed to invalidate cached descriptor")
	}
}

// descriptorJSON is the Redis encoding of a descriptor.
type descriptorJSON struct {
	ApplicationID string    `json:"application_id"`
	Name          string    `json:"name"`
	DisplayName   string    `json:"display_name"`
	Path          string    `json:"path"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (r *Registry) getRemote(ctx context.Context, applicationID, name string) *analytics.ModuleDescriptor {
	if r.redis == nil {
		return nil
	}
	key := redisKey(applicationID, name)

	data, err := r.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		r.metrics.CacheMiss(tierL2)
		return nil
	}
	if err != nil {
		r.metrics.CacheError(tierL2, "get")
		r.logger.WithError(err).WithField("module", name).Warn("descriptor cache read failed")
		return nil
	}

	var dj descriptorJSON
	if err := json.Unmarshal(data, &dj); err != nil {
		// drop corrupt entries
		r.redis.Del(ctx, key)
		r.metrics.CacheError(tierL2, "decode")
		return nil
	}

	r.metrics.CacheHit(tierL2)
	return &analytics.ModuleDescriptor{
		ApplicationID: dj.ApplicationID,
		Name:          dj.Name,
		DisplayName:   dj.DisplayName,
		Path:          dj.Path,
		Description:   dj.Description,
		Category:      dj.Category,
		IsActive:      dj.IsActive,
		CreatedAt:     dj.CreatedAt,
		UpdatedAt:     dj.UpdatedAt,
	}
}

func (r *Registry) setRemote(ctx context.Context, d *analytics.ModuleDescriptor) {
	if r.redis == nil {
		return
	}
	data, err := json.Marshal(descriptorJSON{
		ApplicationID: d.ApplicationID,
		Name:          d.Name,
		DisplayName:   d.DisplayName,
		Path:          d.Path,
		Description:   d.Description,
		Category:      d.Category,
		IsActive:      d.IsActive,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, redisKey(d.ApplicationID, d.Name), data, r.ttl).Err(); err != nil {
		r.metrics.CacheError(tierL2, "set")
		r.logger.WithError(err).WithField("module", d.Name).Warn("descriptor cache write failed")
	}
}
