// Package permissions implements the unified permission resolution engine
// for the Inkwell workspace platform.
//
// # Overview
//
// Inkwell protects a three-level hierarchy: workspaces contain subspaces,
// subspaces (or workspaces directly) contain documents. Access can originate
// from several independent sources at once: an explicit per-resource share,
// a workspace or subspace role, a group grant, or a time-bounded guest link.
// This package merges those heterogeneous grants into one effective
// permission level per (principal, resource) pair, with a deterministic
// precedence policy.
//
// # Architecture
//
// The engine has five moving parts:
//
//  1. Store: materialized grant rows (UnifiedPermission) in the shared
//     relational database, written only through idempotent upserts.
//  2. HierarchyIndex: cached ancestor-chain lookups over the platform's
//     resource tables.
//  3. Materializer: consumes domain change events and converts each into a
//     minimal set of row writes.
//  4. Resolver: reduces a principal's rows across a resource's ancestor
//     chain into one level.
//  5. Sweeper: background deletion of expired guest rows.
//
// QueryService is the only surface other packages consume.
//
// # Precedence
//
// Levels are totally ordered: none < read < comment < edit < manage < owner.
// Sources are ranked by fixed tier:
//
//	direct > subspace_admin > workspace_admin > group >
//	subspace_member > workspace_member > guest
//
// Tier is the primary axis of conflict resolution. A direct share on a
// document at read beats a workspace membership at edit, because explicit
// grants outrank implicit ones regardless of which row sits closer to the
// resource. Ties on tier break by stored priority, then by chain distance,
// then by the higher level.
//
// # Cascading
//
// Role grants are written once, on the workspace or subspace itself, and
// cascade at resolution time: the resolver collects candidate rows across
// the entire ancestor chain. Membership changes therefore cost one row write
// no matter how many documents the workspace holds. Only group events fan
// out, bounded by the group's grant or member count.
//
// # Usage
//
//	store := permissions.NewStore(db)
//	index := permissions.NewHierarchyIndex(permissions.NewSQLChainSource(db), 4096, 30*time.Second)
//	svc := permissions.NewQueryService(store, index, metrics)
//	cached := permissions.NewCachedService(svc, 8192, time.Second, metrics)
//
//	mat := permissions.NewMaterializer(store, permissions.NewSQLGroupDirectory(db), index, logger,
//		permissions.WithCheckCacheInvalidator(cached))
//
//	level, err := cached.EffectivePermission(ctx, permissions.UserPrincipal(42),
//		permissions.ResourceRef{Type: permissions.ResourceDocument, ID: 7})
//
// Callers must treat any non-nil error as deny. LevelNone with a nil error
// covers both "no access" and "resource does not exist"; the distinction is
// deliberately not observable here.
//
// # Expiry
//
// Guest rows always carry an expiry. It is enforced twice: the resolver and
// the store's list queries skip expired rows on every read, and the Sweeper
// deletes them in the background. A late sweeper is a storage concern, never
// an access one.
package permissions
