package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCheckCache fronts a Service with a redis-backed check cache shared
// across replicas. Same epoch scheme as CachedService: invalidation
// increments the principal's epoch key, orphaning old entries until their
// TTL reaps them, so no key scan is ever needed.
type RedisCheckCache struct {
	inner   Service
	redis   *redis.Client
	ttl     time.Duration
	metrics *Metrics
}

// NewRedisCheckCache wraps a service with a redis check cache. Entries live
// for at most ttl; keep it short (sub-second to a few seconds), it bounds
// how stale another replica's view can be.
func NewRedisCheckCache(inner Service, client *redis.Client, ttl time.Duration, metrics *Metrics) *RedisCheckCache {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &RedisCheckCache{
		inner:   inner,
		redis:   client,
		ttl:     ttl,
		metrics: metrics,
	}
}

// EffectivePermission returns a cached level when fresh, delegating
// otherwise. Redis failures fall through to the inner service: the cache
// must never turn an answerable check into a failure, and never answer one
// the store cannot.
func (c *RedisCheckCache) EffectivePermission(ctx context.Context, p Principal, ref ResourceRef) (PermissionLevel, error) {
	if !p.Valid() {
		return LevelNone, ErrInvalidPrincipal
	}

	key, keyErr := c.checkKey(ctx, p, ref)
	if keyErr == nil {
		if cached, err := c.redis.Get(ctx, key).Result(); err == nil {
			if level, perr := ParsePermissionLevel(cached); perr == nil {
				if c.metrics != nil {
					c.metrics.ObserveCache(true)
				}
				return level, nil
			}
		}
	}
	if c.metrics != nil {
		c.metrics.ObserveCache(false)
	}

	level, err := c.inner.EffectivePermission(ctx, p, ref)
	if err != nil {
		return LevelNone, err
	}
	if keyErr == nil {
		c.redis.Set(ctx, key, level.String(), c.ttl)
	}
	return level, nil
}

// AccessibleResources is a pass-through, as with CachedService.
func (c *RedisCheckCache) AccessibleResources(ctx context.Context, p Principal, resourceType ResourceType, minLevel PermissionLevel) ([]int64, error) {
	return c.inner.AccessibleResources(ctx, p, resourceType, minLevel)
}

// InvalidatePrincipal bumps the principal's epoch across all replicas.
// Satisfies CheckCacheInvalidator.
func (c *RedisCheckCache) InvalidatePrincipal(ctx context.Context, p Principal) error {
	if !p.Valid() {
		return ErrInvalidPrincipal
	}
	if err := c.redis.Incr(ctx, epochKey(p)).Err(); err != nil {
		return fmt.Errorf("failed to bump epoch for %s: %w", p, err)
	}
	return nil
}

func (c *RedisCheckCache) checkKey(ctx context.Context, p Principal, ref ResourceRef) (string, error) {
	epoch, err := c.redis.Get(ctx, epochKey(p)).Result()
	if err == redis.Nil {
		epoch = "0"
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("perm:check:%s:%s:%s", epoch, p, ref), nil
}

func epochKey(p Principal) string {
	return "perm:epoch:" + p.String()
}
