package permissions

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedService fronts a Service with a short-TTL in-process cache of
// effective-permission checks. The engine itself stays cache-free; this
// wrapper is the request-facing layer the design notes call for.
//
// Invalidation is by principal epoch: the materializer bumps a principal's
// epoch after every write, orphaning that principal's cached entries, so an
// actor reads their own change immediately. Other processes sharing the
// store see changes within the TTL; use RedisCheckCache when replicas must
// converge faster.
type CachedService struct {
	inner   Service
	cache   *lru.LRU[string, PermissionLevel]
	metrics *Metrics

	mu     sync.Mutex
	epochs map[string]uint64
}

// NewCachedService wraps a service with a cache of up to size entries, each
// valid for at most ttl.
func NewCachedService(inner Service, size int, ttl time.Duration, metrics *Metrics) *CachedService {
	if size < 64 {
		size = 64
	}
	return &CachedService{
		inner:   inner,
		cache:   lru.NewLRU[string, PermissionLevel](size, nil, ttl),
		metrics: metrics,
		epochs:  make(map[string]uint64),
	}
}

// EffectivePermission returns a cached level when fresh, delegating
// otherwise. Errors are never cached.
func (c *CachedService) EffectivePermission(ctx context.Context, p Principal, ref ResourceRef) (PermissionLevel, error) {
	if !p.Valid() {
		return LevelNone, ErrInvalidPrincipal
	}

	key := c.checkKey(p, ref)
	if level, ok := c.cache.Get(key); ok {
		if c.metrics != nil {
			c.metrics.ObserveCache(true)
		}
		return level, nil
	}
	if c.metrics != nil {
		c.metrics.ObserveCache(false)
	}

	level, err := c.inner.EffectivePermission(ctx, p, ref)
	if err != nil {
		return LevelNone, err
	}
	c.cache.Add(key, level)
	return level, nil
}

// AccessibleResources is a pass-through: enumeration results are large and
// callers paginate or cache them themselves.
func (c *CachedService) AccessibleResources(ctx context.Context, p Principal, resourceType ResourceType, minLevel PermissionLevel) ([]int64, error) {
	return c.inner.AccessibleResources(ctx, p, resourceType, minLevel)
}

// InvalidatePrincipal bumps the principal's epoch, orphaning their cached
// checks. Satisfies CheckCacheInvalidator.
func (c *CachedService) InvalidatePrincipal(_ context.Context, p Principal) error {
	if !p.Valid() {
		return ErrInvalidPrincipal
	}
	c.mu.Lock()
	c.epochs[p.String()]++
	c.mu.Unlock()
	return nil
}

func (c *CachedService) checkKey(p Principal, ref ResourceRef) string {
	c.mu.Lock()
	epoch := c.epochs[p.String()]
	c.mu.Unlock()
	return fmt.Sprintf("%d:%s:%s", epoch, p, ref)
}
