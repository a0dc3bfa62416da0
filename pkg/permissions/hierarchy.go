package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ChainSource answers ancestry questions from the platform's resource
// tables. The engine does not own those tables; it reads them through this
// interface so tests can substitute an in-memory shape.
type ChainSource interface {
	// AncestorChain returns the ordered chain [resource, parent, ...] up to
	// and including the workspace. Returns ErrResourceNotFound for unknown
	// resources.
	AncestorChain(ctx context.Context, ref ResourceRef) ([]ResourceRef, error)

	// DescendantsOf returns the IDs of every resource of the wanted type
	// under the given ancestor.
	DescendantsOf(ctx context.Context, under ResourceRef, want ResourceType) ([]int64, error)
}

// HierarchyIndex is a read-through cache over a ChainSource. Chains are
// cached with a TTL and evicted LRU; a lookup racing an invalidation may
// return the prior hierarchy shape, which the next lookup corrects.
type HierarchyIndex struct {
	source ChainSource
	cache  *lru.LRU[string, []ResourceRef]
}

// NewHierarchyIndex creates a hierarchy index caching up to size chains for
// at most ttl each.
func NewHierarchyIndex(source ChainSource, size int, ttl time.Duration) *HierarchyIndex {
	if size < 16 {
		size = 16
	}
	return &HierarchyIndex{
		source: source,
		cache:  lru.NewLRU[string, []ResourceRef](size, nil, ttl),
	}
}

// AncestorChain returns the ordered ancestor chain for a resource,
// read-through cached.
func (h *HierarchyIndex) AncestorChain(ctx context.Context, ref ResourceRef) ([]ResourceRef, error) {
	key := ref.String()
	if chain, ok := h.cache.Get(key); ok {
		return chain, nil
	}

	chain, err := h.source.AncestorChain(ctx, ref)
	if err != nil {
		return nil, err
	}

	h.cache.Add(key, chain)
	return chain, nil
}

// DescendantsOf enumerates descendant resource IDs. Not cached: callers are
// enumeration paths that already expect a full scan.
func (h *HierarchyIndex) DescendantsOf(ctx context.Context, under ResourceRef, want ResourceType) ([]int64, error) {
	return h.source.DescendantsOf(ctx, under, want)
}

// Invalidate drops the cached chain for a resource. Called when a document
// or subspace is re-parented.
func (h *HierarchyIndex) Invalidate(ref ResourceRef) {
	h.cache.Remove(ref.String())
}

// SQLChainSource reads the workspace hierarchy from the shared relational
// store.
type SQLChainSource struct {
	db *sql.DB
}

// NewSQLChainSource creates a chain source backed by the given database.
func NewSQLChainSource(db *sql.DB) *SQLChainSource {
	return &SQLChainSource{db: db}
}

// AncestorChain resolves a resource's ancestor chain with at most one query.
// The hierarchy is a bounded-depth forest, so the chain is built from the
// row's foreign keys rather than by recursive traversal.
func (c *SQLChainSource) AncestorChain(ctx context.Context, ref ResourceRef) ([]ResourceRef, error) {
	switch ref.Type {
	case ResourceDocument:
		var subspaceID sql.NullInt64
		var workspaceID int64
		err := c.db.QueryRowContext(ctx,
			`SELECT subspace_id, workspace_id FROM documents WHERE id = $1`, ref.ID,
		).Scan(&subspaceID, &workspaceID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document %d: %w", ref.ID, ErrResourceNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve document ancestry: %w", err)
		}

		chain := []ResourceRef{ref}
		if subspaceID.Valid {
			chain = append(chain, ResourceRef{Type: ResourceSubspace, ID: subspaceID.Int64})
		}
		return append(chain, ResourceRef{Type: ResourceWorkspace, ID: workspaceID}), nil

	case ResourceSubspace:
		var workspaceID int64
		err := c.db.QueryRowContext(ctx,
			`SELECT workspace_id FROM subspaces WHERE id = $1`, ref.ID,
		).Scan(&workspaceID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("subspace %d: %w", ref.ID, ErrResourceNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve subspace ancestry: %w", err)
		}
		return []ResourceRef{ref, {Type: ResourceWorkspace, ID: workspaceID}}, nil

	case ResourceWorkspace:
		var id int64
		err := c.db.QueryRowContext(ctx,
			`SELECT id FROM workspaces WHERE id = $1`, ref.ID,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("workspace %d: %w", ref.ID, ErrResourceNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace: %w", err)
		}
		return []ResourceRef{ref}, nil
	}

	return nil, fmt.Errorf("%s: %w", ref.Type, ErrResourceNotFound)
}

// DescendantsOf enumerates descendant IDs of the wanted type. Subspace-owned
// documents are reachable from their workspace as well, matching the
// cascading rule.
func (c *SQLChainSource) DescendantsOf(ctx context.Context, under ResourceRef, want ResourceType) ([]int64, error) {
	var query string
	switch {
	case under.Type == ResourceWorkspace && want == ResourceDocument:
		query = `SELECT id FROM documents WHERE workspace_id = $1`
	case under.Type == ResourceWorkspace && want == ResourceSubspace:
		query = `SELECT id FROM subspaces WHERE workspace_id = $1`
	case under.Type == ResourceSubspace && want == ResourceDocument:
		query = `SELECT id FROM documents WHERE subspace_id = $1`
	default:
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx, query, under.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate descendants of %s: %w", under, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan descendant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
