package permissions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingService counts delegated calls and serves a programmable level.
type countingService struct {
	mu    sync.Mutex
	level PermissionLevel
	err   error
	calls int
}

func (c *countingService) EffectivePermission(_ context.Context, _ Principal, _ ResourceRef) (PermissionLevel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return LevelNone, c.err
	}
	return c.level, nil
}

func (c *countingService) AccessibleResources(_ context.Context, _ Principal, _ ResourceType, _ PermissionLevel) ([]int64, error) {
	return []int64{1}, nil
}

func (c *countingService) setLevel(level PermissionLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = level
}

func (c *countingService) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestCachedServiceServesFromCache(t *testing.T) {
	inner := &countingService{level: LevelEdit}
	cached := NewCachedService(inner, 128, time.Minute, nil)
	ctx := context.Background()

	level, err := cached.EffectivePermission(ctx, UserPrincipal(42), testDoc)
	require.NoError(t, err)
	assert.Equal(t, LevelEdit, level)
	assert.Equal(t, 1, inner.callCount())

	// Second check is a cache hit.
	level, err = cached.EffectivePermission(ctx, UserPrincipal(42), testDoc)
	require.NoError(t, err)
	assert.Equal(t, LevelEdit, level)
	assert.Equal(t, 1, inner.callCount())

	// Different resource misses.
	_, err = cached.EffectivePermission(ctx, UserPrincipal(42), testWorkspace)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.callCount())
}

func TestCachedServiceReadYourOwnWrite(t *testing.T) {
	inner := &countingService{level: LevelEdit}
	cached := NewCachedService(inner, 128, time.Minute, nil)
	ctx := context.Background()
	p := UserPrincipal(42)

	level, err := cached.EffectivePermission(ctx, p, testDoc)
	require.NoError(t, err)
	assert.Equal(t, LevelEdit, level)

	// A write lands and the principal's cache is invalidated; the next
	// check sees the new level immediately, not after the TTL.
	inner.setLevel(LevelRead)
	require.NoError(t, cached.InvalidatePrincipal(ctx, p))

	level, err = cached.EffectivePermission(ctx, p, testDoc)
	require.NoError(t, err)
	assert.Equal(t, LevelRead, level)
}

func TestCachedServiceInvalidationIsPerPrincipal(t *testing.T) {
	inner := &countingService{level: LevelEdit}
	cached := NewCachedService(inner, 128, time.Minute, nil)
	ctx := context.Background()

	_, err := cached.EffectivePermission(ctx, UserPrincipal(42), testDoc)
	require.NoError(t, err)
	_, err = cached.EffectivePermission(ctx, UserPrincipal(43), testDoc)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.callCount())

	require.NoError(t, cached.InvalidatePrincipal(ctx, UserPrincipal(42)))

	// User 43's entry survives.
	_, err = cached.EffectivePermission(ctx, UserPrincipal(43), testDoc)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.callCount())

	// User 42's entry is orphaned.
	_, err = cached.EffectivePermission(ctx, UserPrincipal(42), testDoc)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.callCount())
}

func TestCachedServiceNeverCachesErrors(t *testing.T) {
	inner := &countingService{err: errors.New("store down")}
	cached := NewCachedService(inner, 128, time.Minute, nil)
	ctx := context.Background()

	_, err := cached.EffectivePermission(ctx, UserPrincipal(42), testDoc)
	assert.Error(t, err)
	_, err = cached.EffectivePermission(ctx, UserPrincipal(42), testDoc)
	assert.Error(t, err)
	assert.Equal(t, 2, inner.callCount())
}

func TestCachedServiceInvalidPrincipal(t *testing.T) {
	cached := NewCachedService(&countingService{}, 128, time.Minute, nil)

	_, err := cached.EffectivePermission(context.Background(), Principal{}, testDoc)
	assert.ErrorIs(t, err, ErrInvalidPrincipal)

	err = cached.InvalidatePrincipal(context.Background(), Principal{})
	assert.ErrorIs(t, err, ErrInvalidPrincipal)
}

func TestCachedServiceAccessibleResourcesPassThrough(t *testing.T) {
	cached := NewCachedService(&countingService{}, 128, time.Minute, nil)

	ids, err := cached.AccessibleResources(context.Background(), UserPrincipal(42), ResourceDocument, LevelRead)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}
