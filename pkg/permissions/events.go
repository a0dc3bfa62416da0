package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event is a domain change notification from the membership, sharing, and
// group collaborators. The union is closed: the materializer matches
// exhaustively over these variants and rejects anything else. Delivery is
// at-least-once; every handler reduces to idempotent upserts/deletes, so
// duplicates are absorbed.
type Event interface {
	// Kind returns the event name used in logs and metrics.
	Kind() string

	isEvent()
}

// WorkspaceRoleChanged reports a workspace membership assigned, changed, or
// removed. Materializes exactly one row on the workspace itself; the grant
// cascades to subspaces and documents at resolution time, keeping writes
// O(1) regardless of hierarchy size.
type WorkspaceRoleChanged struct {
	MembershipID int64
	UserID       int64
	WorkspaceID  int64
	Admin        bool
	Level        PermissionLevel
	Removed      bool
	ActorID      *int64
}

func (WorkspaceRoleChanged) Kind() string { return "workspace_role_changed" }
func (WorkspaceRoleChanged) isEvent()     {}

// SubspaceRoleChanged is the subspace-level counterpart of
// WorkspaceRoleChanged.
type SubspaceRoleChanged struct {
	MembershipID int64
	UserID       int64
	SubspaceID   int64
	Admin        bool
	Level        PermissionLevel
	Removed      bool
	ActorID      *int64
}

func (SubspaceRoleChanged) Kind() string { return "subspace_role_changed" }
func (SubspaceRoleChanged) isEvent()     {}

// GroupMembershipChanged reports a user joining or leaving a group. Fans out
// one GROUP row per grant the group currently holds, bounded by the group's
// grant count.
type GroupMembershipChanged struct {
	GroupID int64
	UserID  int64
	Removed bool
	ActorID *int64
}

func (GroupMembershipChanged) Kind() string { return "group_membership_changed" }
func (GroupMembershipChanged) isEvent()     {}

// GroupGrantChanged reports a grant created, updated, or revoked on a group.
// Fans out one GROUP row per current group member.
type GroupGrantChanged struct {
	GrantID  int64
	GroupID  int64
	Resource ResourceRef
	Level    PermissionLevel
	Priority int
	Removed  bool
	ActorID  *int64
}

func (GroupGrantChanged) Kind() string { return "group_grant_changed" }
func (GroupGrantChanged) isEvent()     {}

// DirectShareChanged reports an explicit per-resource share for a user.
type DirectShareChanged struct {
	ShareID  int64
	UserID   int64
	Resource ResourceRef
	Level    PermissionLevel
	Removed  bool
	ActorID  *int64
}

func (DirectShareChanged) Kind() string { return "direct_share_changed" }
func (DirectShareChanged) isEvent()     {}

// GuestAccessChanged reports a time-bounded guest grant issued or revoked.
// ExpiresAt is required on issue; the issuing collaborator enforces it and
// the materializer validates it.
type GuestAccessChanged struct {
	GrantID   int64
	GuestID   int64
	Resource  ResourceRef
	Level     PermissionLevel
	ExpiresAt time.Time
	Removed   bool
	ActorID   *int64
}

func (GuestAccessChanged) Kind() string { return "guest_access_changed" }
func (GuestAccessChanged) isEvent()     {}

// ResourceMoved reports a document moved to a different subspace or a
// subspace moved to a different workspace. No rows change; the cached
// ancestor chain is dropped.
type ResourceMoved struct {
	Resource ResourceRef
}

func (ResourceMoved) Kind() string { return "resource_moved" }
func (ResourceMoved) isEvent()     {}

// GroupGrant is one grant a group holds on a resource, as reported by the
// group collaborator.
type GroupGrant struct {
	GrantID  int64
	GroupID  int64
	Resource ResourceRef
	Level    PermissionLevel
	Priority int
}

// GroupDirectory exposes the group collaborator's current state for fan-out.
type GroupDirectory interface {
	// MembersOf returns the user IDs currently in a group.
	MembersOf(ctx context.Context, groupID int64) ([]int64, error)

	// GrantsOf returns the grants a group currently holds.
	GrantsOf(ctx context.Context, groupID int64) ([]GroupGrant, error)
}

// SQLGroupDirectory reads group membership and grants from the shared
// relational store.
type SQLGroupDirectory struct {
	db *sql.DB
}

// NewSQLGroupDirectory creates a directory backed by the group tables.
func NewSQLGroupDirectory(db *sql.DB) *SQLGroupDirectory {
	return &SQLGroupDirectory{db: db}
}

// MembersOf returns the user IDs currently in the group.
func (d *SQLGroupDirectory) MembersOf(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GrantsOf returns the group's current grants.
func (d *SQLGroupDirectory) GrantsOf(ctx context.Context, groupID int64) ([]GroupGrant, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, group_id, resource_type, resource_id, permission, priority
		FROM group_grants
		WHERE group_id = $1
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group grants: %w", err)
	}
	defer rows.Close()

	var grants []GroupGrant
	for rows.Next() {
		var g GroupGrant
		var permission string
		if err := rows.Scan(&g.GrantID, &g.GroupID, &g.Resource.Type, &g.Resource.ID, &permission, &g.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan group grant: %w", err)
		}
		level, err := ParsePermissionLevel(permission)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group grant: %w", err)
		}
		g.Level = level
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
