package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Service is the interface collaborators consume. Route handlers, the
// document loader, and the sharing UI go through this and nothing else.
type Service interface {
	// EffectivePermission returns the resolved level for a principal on a
	// resource. Unknown resources and principals with no grants both
	// resolve to LevelNone with a nil error; a caller cannot tell "no
	// access" from "nonexistent" without a separate existence check. A
	// non-nil error means access could not be determined and callers must
	// deny.
	EffectivePermission(ctx context.Context, p Principal, ref ResourceRef) (PermissionLevel, error)

	// AccessibleResources enumerates the IDs of resources of the given type
	// the principal can access at or above minLevel, expanding cascaded
	// workspace and subspace grants. More expensive than a single
	// resolution; callers paginate or cache.
	AccessibleResources(ctx context.Context, p Principal, resourceType ResourceType, minLevel PermissionLevel) ([]int64, error)
}

// RowLister is the slice of the store the query service reads for
// enumeration.
type RowLister interface {
	RowSource
	ListForPrincipal(ctx context.Context, p Principal) ([]*UnifiedPermission, error)
}

// ResourceIndex is the slice of the hierarchy index the query service reads.
type ResourceIndex interface {
	ChainIndex
	DescendantsOf(ctx context.Context, under ResourceRef, want ResourceType) ([]int64, error)
}

// QueryService implements Service over the resolver, store, and hierarchy
// index.
type QueryService struct {
	resolver  *Resolver
	rows      RowLister
	hierarchy ResourceIndex
	metrics   *Metrics
	now       func() time.Time
}

// NewQueryService creates the query service.
func NewQueryService(rows RowLister, hierarchy ResourceIndex, metrics *Metrics) *QueryService {
	return &QueryService{
		resolver:  NewResolver(rows, hierarchy),
		rows:      rows,
		hierarchy: hierarchy,
		metrics:   metrics,
		now:       time.Now,
	}
}

// EffectivePermission resolves one (principal, resource) pair.
func (s *QueryService) EffectivePermission(ctx context.Context, p Principal, ref ResourceRef) (PermissionLevel, error) {
	start := s.now()

	res, err := s.resolver.Resolve(ctx, p, ref)
	if errors.Is(err, ErrResourceNotFound) {
		if s.metrics != nil {
			s.metrics.ObserveResolution(LevelNone, time.Since(start))
		}
		return LevelNone, nil
	}
	if err != nil {
		return LevelNone, err
	}

	if s.metrics != nil {
		s.metrics.ObserveResolution(res.Level, time.Since(start))
	}
	return res.Level, nil
}

// AccessibleResources enumerates accessible resources of one type.
//
// Candidates come from two directions: rows sitting directly on resources of
// the wanted type, and rows on ancestors (workspace or subspace) expanded
// through the hierarchy index. Each candidate is then reduced with the full
// precedence policy, so a low DIRECT row still caps a resource even when a
// broad workspace grant would clear the threshold.
func (s *QueryService) AccessibleResources(ctx context.Context, p Principal, resourceType ResourceType, minLevel PermissionLevel) ([]int64, error) {
	if !p.Valid() {
		return nil, ErrInvalidPrincipal
	}
	if !resourceType.Valid() {
		return nil, fmt.Errorf("unknown resource type %q", resourceType)
	}

	rows, err := s.rows.ListForPrincipal(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list principal rows: %w", err)
	}

	candidates := make(map[int64]struct{})
	for _, row := range rows {
		ref := row.Resource()
		if ref.Type == resourceType {
			candidates[ref.ID] = struct{}{}
			continue
		}
		if !cascadesTo(ref.Type, resourceType) {
			continue
		}
		ids, err := s.hierarchy.DescendantsOf(ctx, ref, resourceType)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", ref, err)
		}
		for _, id := range ids {
			candidates[id] = struct{}{}
		}
	}

	now := s.now()
	var accessible []int64
	for id := range candidates {
		chain, err := s.hierarchy.AncestorChain(ctx, ResourceRef{Type: resourceType, ID: id})
		if errors.Is(err, ErrResourceNotFound) {
			// Row outlived its resource; enumeration skips it.
			continue
		}
		if err != nil {
			return nil, err
		}
		if Reduce(rows, chain, now).Level.AtLeast(minLevel) {
			accessible = append(accessible, id)
		}
	}

	sort.Slice(accessible, func(i, j int) bool { return accessible[i] < accessible[j] })
	return accessible, nil
}

// cascadesTo reports whether a grant on a resource of type from implicitly
// covers resources of type to.
func cascadesTo(from, to ResourceType) bool {
	switch from {
	case ResourceWorkspace:
		return to == ResourceSubspace || to == ResourceDocument
	case ResourceSubspace:
		return to == ResourceDocument
	}
	return false
}
