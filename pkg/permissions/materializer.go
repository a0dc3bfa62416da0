package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inkwellhq/inkwell/pkg/async"
	"github.com/inkwellhq/inkwell/pkg/observability"
)

// RowWriter is the slice of the store the materializer writes.
type RowWriter interface {
	Upsert(ctx context.Context, row *UnifiedPermission) error
	Delete(ctx context.Context, key RowKey) error
	DeleteBySource(ctx context.Context, source SourceType, sourceID int64) (int64, error)
}

// ChainInvalidator drops a cached ancestor chain after re-parenting.
type ChainInvalidator interface {
	Invalidate(ref ResourceRef)
}

// CheckCacheInvalidator drops cached permission checks for a principal so an
// actor observes their own change immediately.
type CheckCacheInvalidator interface {
	InvalidatePrincipal(ctx context.Context, p Principal) error
}

// Materializer converts domain change events into the minimal idempotent set
// of row writes. One role or share event is one upsert or delete; only group
// events fan out, bounded by the group's grant or member count, never by
// hierarchy size.
type Materializer struct {
	rows      RowWriter
	groups    GroupDirectory
	hierarchy ChainInvalidator
	cache     CheckCacheInvalidator
	logger    *observability.Logger
	metrics   *Metrics

	fanoutWorkers int
	fanoutTimeout time.Duration
}

// MaterializerOption configures a Materializer.
type MaterializerOption func(*Materializer)

// WithCheckCacheInvalidator wires a check cache so writes invalidate the
// affected principals' cached results.
func WithCheckCacheInvalidator(inv CheckCacheInvalidator) MaterializerOption {
	return func(m *Materializer) { m.cache = inv }
}

// WithMaterializerMetrics wires event metrics.
func WithMaterializerMetrics(metrics *Metrics) MaterializerOption {
	return func(m *Materializer) { m.metrics = metrics }
}

// WithFanoutWorkers sets the worker count for group fan-out.
func WithFanoutWorkers(workers int) MaterializerOption {
	return func(m *Materializer) { m.fanoutWorkers = workers }
}

// NewMaterializer creates a materializer writing through rows, reading group
// state from groups, and invalidating hierarchy on re-parent events.
func NewMaterializer(rows RowWriter, groups GroupDirectory, hierarchy ChainInvalidator, logger *observability.Logger, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		rows:          rows,
		groups:        groups,
		hierarchy:     hierarchy,
		logger:        logger,
		fanoutWorkers: 8,
		fanoutTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply processes one event. Replaying the same event is harmless: upserts
// overwrite the same row and deletes of absent rows are no-ops.
func (m *Materializer) Apply(ctx context.Context, ev Event) error {
	var err error
	switch e := ev.(type) {
	case WorkspaceRoleChanged:
		err = m.applyRoleChange(ctx,
			UserPrincipal(e.UserID),
			ResourceRef{Type: ResourceWorkspace, ID: e.WorkspaceID},
			SourceWorkspaceAdmin, SourceWorkspaceMember,
			e.Admin, e.Level, e.MembershipID, e.Removed, e.ActorID)
	case SubspaceRoleChanged:
		err = m.applyRoleChange(ctx,
			UserPrincipal(e.UserID),
			ResourceRef{Type: ResourceSubspace, ID: e.SubspaceID},
			SourceSubspaceAdmin, SourceSubspaceMember,
			e.Admin, e.Level, e.MembershipID, e.Removed, e.ActorID)
	case GroupMembershipChanged:
		err = m.applyGroupMembership(ctx, e)
	case GroupGrantChanged:
		err = m.applyGroupGrant(ctx, e)
	case DirectShareChanged:
		err = m.applyDirectShare(ctx, e)
	case GuestAccessChanged:
		err = m.applyGuestAccess(ctx, e)
	case ResourceMoved:
		m.hierarchy.Invalidate(e.Resource)
	default:
		err = fmt.Errorf("unhandled event type %T", ev)
	}

	if m.metrics != nil {
		m.metrics.ObserveEvent(ev.Kind(), err)
	}
	if err != nil {
		m.logger.WithError(err).WithField("event", ev.Kind()).Error("failed to materialize event")
		return fmt.Errorf("materialize %s: %w", ev.Kind(), err)
	}
	return nil
}

// applyRoleChange materializes a workspace or subspace role event. The
// admin and member variants of a membership share a source record, so a
// role change upserts one row and deletes its counterpart.
func (m *Materializer) applyRoleChange(ctx context.Context, p Principal, ref ResourceRef, adminSource, memberSource SourceType, admin bool, level PermissionLevel, membershipID int64, removed bool, actorID *int64) error {
	adminKey := RowKey{Principal: p, Resource: ref, Source: adminSource, SourceID: membershipID}
	memberKey := RowKey{Principal: p, Resource: ref, Source: memberSource, SourceID: membershipID}

	if removed {
		if err := m.rows.Delete(ctx, adminKey); err != nil {
			return err
		}
		if err := m.rows.Delete(ctx, memberKey); err != nil {
			return err
		}
		return m.invalidatePrincipal(ctx, p)
	}

	source, stale := memberSource, adminKey
	if admin {
		source, stale = adminSource, memberKey
	}

	row := &UnifiedPermission{
		UserID:      p.UserID,
		Type:        ref.Type,
		ResourceID:  ref.ID,
		Permission:  level,
		Source:      source,
		SourceID:    membershipID,
		CreatedByID: actorID,
	}
	if err := m.upsert(ctx, row); err != nil {
		return err
	}
	if err := m.rows.Delete(ctx, stale); err != nil {
		return err
	}
	return m.invalidatePrincipal(ctx, p)
}

// applyGroupMembership fans out across the group's existing grants: one
// GROUP row per grant for the joining/leaving user.
func (m *Materializer) applyGroupMembership(ctx context.Context, e GroupMembershipChanged) error {
	grants, err := m.groups.GrantsOf(ctx, e.GroupID)
	if err != nil {
		return err
	}

	p := UserPrincipal(e.UserID)
	errs := async.Batch(ctx, grants, m.fanoutWorkers, "group membership fan-out", m.fanoutTimeout,
		func(ctx context.Context, g GroupGrant) error {
			if e.Removed {
				return m.rows.Delete(ctx, RowKey{
					Principal: p,
					Resource:  g.Resource,
					Source:    SourceGroup,
					SourceID:  g.GrantID,
				})
			}
			return m.upsert(ctx, &UnifiedPermission{
				UserID:      p.UserID,
				Type:        g.Resource.Type,
				ResourceID:  g.Resource.ID,
				Permission:  g.Level,
				Source:      SourceGroup,
				SourceID:    g.GrantID,
				Priority:    g.Priority,
				CreatedByID: e.ActorID,
			})
		})
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return m.invalidatePrincipal(ctx, p)
}

// applyGroupGrant fans out across the group's current members. Revocation
// deletes every row derived from the grant in one statement.
func (m *Materializer) applyGroupGrant(ctx context.Context, e GroupGrantChanged) error {
	members, err := m.groups.MembersOf(ctx, e.GroupID)
	if err != nil {
		return err
	}

	if e.Removed {
		if _, err := m.rows.DeleteBySource(ctx, SourceGroup, e.GrantID); err != nil {
			return err
		}
		return m.invalidateUsers(ctx, members)
	}

	errs := async.Batch(ctx, members, m.fanoutWorkers, "group grant fan-out", m.fanoutTimeout,
		func(ctx context.Context, userID int64) error {
			uid := userID
			return m.upsert(ctx, &UnifiedPermission{
				UserID:      &uid,
				Type:        e.Resource.Type,
				ResourceID:  e.Resource.ID,
				Permission:  e.Level,
				Source:      SourceGroup,
				SourceID:    e.GrantID,
				Priority:    e.Priority,
				CreatedByID: e.ActorID,
			})
		})
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return m.invalidateUsers(ctx, members)
}

func (m *Materializer) applyDirectShare(ctx context.Context, e DirectShareChanged) error {
	p := UserPrincipal(e.UserID)
	if e.Removed {
		if err := m.rows.Delete(ctx, RowKey{
			Principal: p,
			Resource:  e.Resource,
			Source:    SourceDirect,
			SourceID:  e.ShareID,
		}); err != nil {
			return err
		}
		return m.invalidatePrincipal(ctx, p)
	}

	if err := m.upsert(ctx, &UnifiedPermission{
		UserID:      p.UserID,
		Type:        e.Resource.Type,
		ResourceID:  e.Resource.ID,
		Permission:  e.Level,
		Source:      SourceDirect,
		SourceID:    e.ShareID,
		CreatedByID: e.ActorID,
	}); err != nil {
		return err
	}
	return m.invalidatePrincipal(ctx, p)
}

func (m *Materializer) applyGuestAccess(ctx context.Context, e GuestAccessChanged) error {
	p := GuestPrincipal(e.GuestID)
	if e.Removed {
		if err := m.rows.Delete(ctx, RowKey{
			Principal: p,
			Resource:  e.Resource,
			Source:    SourceGuest,
			SourceID:  e.GrantID,
		}); err != nil {
			return err
		}
		return m.invalidatePrincipal(ctx, p)
	}

	expires := e.ExpiresAt
	if err := m.upsert(ctx, &UnifiedPermission{
		GuestID:     p.GuestID,
		Type:        e.Resource.Type,
		ResourceID:  e.Resource.ID,
		Permission:  e.Level,
		Source:      SourceGuest,
		SourceID:    e.GrantID,
		ExpiresAt:   &expires,
		CreatedByID: e.ActorID,
	}); err != nil {
		return err
	}
	return m.invalidatePrincipal(ctx, p)
}

// upsert validates and writes one row. Inconsistent grants are rejected and
// logged; the row is never clamped to the ceiling, so upstream bugs surface.
func (m *Materializer) upsert(ctx context.Context, row *UnifiedPermission) error {
	if err := row.Validate(); err != nil {
		if errors.Is(err, ErrGrantExceedsSource) {
			m.logger.WithFields(map[string]interface{}{
				"source":     string(row.Source),
				"source_id":  row.SourceID,
				"resource":   row.Resource().String(),
				"permission": row.Permission.String(),
			}).Error("rejected grant above source ceiling")
		}
		return err
	}
	return m.rows.Upsert(ctx, row)
}

func (m *Materializer) invalidatePrincipal(ctx context.Context, p Principal) error {
	if m.cache == nil {
		return nil
	}
	if err := m.cache.InvalidatePrincipal(ctx, p); err != nil {
		return fmt.Errorf("failed to invalidate check cache for %s: %w", p, err)
	}
	return nil
}

func (m *Materializer) invalidateUsers(ctx context.Context, userIDs []int64) error {
	for _, id := range userIDs {
		if err := m.invalidatePrincipal(ctx, UserPrincipal(id)); err != nil {
			return err
		}
	}
	return nil
}
