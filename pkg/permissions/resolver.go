package permissions

import (
	"context"
	"fmt"
	"time"
)

// RowSource is the slice of the store the resolver reads.
type RowSource interface {
	ListForPrincipalOnResources(ctx context.Context, p Principal, refs []ResourceRef) ([]*UnifiedPermission, error)
}

// ChainIndex is the slice of the hierarchy index the resolver reads.
type ChainIndex interface {
	AncestorChain(ctx context.Context, ref ResourceRef) ([]ResourceRef, error)
}

// Resolution is the outcome of resolving one (principal, resource) pair.
type Resolution struct {
	Level      PermissionLevel
	Winner     *UnifiedPermission // nil when Level is LevelNone
	Considered int                // candidate rows across the chain
	ResolvedAt time.Time
}

// Resolver computes effective permission levels. It is a pure read over the
// store and the hierarchy index: no writes, safe for concurrent use.
type Resolver struct {
	rows  RowSource
	chain ChainIndex
	now   func() time.Time
}

// NewResolver creates a resolver over the given row source and hierarchy
// index.
func NewResolver(rows RowSource, chain ChainIndex) *Resolver {
	return &Resolver{rows: rows, chain: chain, now: time.Now}
}

// Resolve computes the effective level for a principal on a resource.
// Unknown resources surface as ErrResourceNotFound; the query service maps
// that to LevelNone.
func (r *Resolver) Resolve(ctx context.Context, p Principal, ref ResourceRef) (*Resolution, error) {
	if !p.Valid() {
		return nil, ErrInvalidPrincipal
	}

	chain, err := r.chain.AncestorChain(ctx, ref)
	if err != nil {
		return nil, err
	}

	// A workspace-level row is a valid candidate for a document three
	// levels down, so candidates are collected across the whole chain.
	candidates, err := r.rows.ListForPrincipalOnResources(ctx, p, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate rows: %w", err)
	}

	res := Reduce(candidates, chain, r.now())
	return &res, nil
}

// Reduce collapses candidate rows on an ancestor chain into one effective
// level. Precedence: source tier first, then lower stored priority, then the
// row closer to the resource, then the higher level. Tier, not chain
// distance, is the primary axis: an explicit share on the resource beats an
// implicit membership on its workspace even though both are candidates.
// Expired rows and rows off the chain never contribute.
func Reduce(rows []*UnifiedPermission, chain []ResourceRef, now time.Time) Resolution {
	distance := make(map[ResourceRef]int, len(chain))
	for i, ref := range chain {
		distance[ref] = i
	}

	res := Resolution{Level: LevelNone, ResolvedAt: now}
	var winnerDist int

	for _, row := range rows {
		dist, onChain := distance[row.Resource()]
		if !onChain || row.Expired(now) {
			continue
		}
		res.Considered++

		if res.Winner == nil || beats(row, dist, res.Winner, winnerDist) {
			res.Winner = row
			res.Level = row.Permission
			winnerDist = dist
		}
	}
	return res
}

// beats reports whether candidate a (at chain distance da) outranks the
// current winner b (at distance db).
func beats(a *UnifiedPermission, da int, b *UnifiedPermission, db int) bool {
	if at, bt := a.Source.Tier(), b.Source.Tier(); at != bt {
		return at > bt
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if da != db {
		return da < db
	}
	return a.Permission > b.Permission
}
