package permissions

import (
	"fmt"
	"time"
)

// PermissionLevel is the ordered access level lattice. Levels form a total
// order; NONE is the zero value so an unset level never grants access.
type PermissionLevel int

const (
	LevelNone PermissionLevel = iota
	LevelRead
	LevelComment
	LevelEdit
	LevelManage
	LevelOwner
)

var levelNames = map[PermissionLevel]string{
	LevelNone:    "none",
	LevelRead:    "read",
	LevelComment: "comment",
	LevelEdit:    "edit",
	LevelManage:  "manage",
	LevelOwner:   "owner",
}

// String returns the wire name of the level.
func (l PermissionLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// AtLeast reports whether l meets or exceeds the threshold.
func (l PermissionLevel) AtLeast(threshold PermissionLevel) bool {
	return l >= threshold
}

// MaxLevel returns the greater of two levels.
func MaxLevel(a, b PermissionLevel) PermissionLevel {
	if a > b {
		return a
	}
	return b
}

// ParsePermissionLevel parses a wire name into a level.
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	for level, name := range levelNames {
		if name == s {
			return level, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown permission level: %q", s)
}

// ResourceType identifies a node kind in the workspace hierarchy.
type ResourceType string

const (
	ResourceWorkspace ResourceType = "workspace"
	ResourceSubspace  ResourceType = "subspace"
	ResourceDocument  ResourceType = "document"
)

// Valid reports whether rt is a known resource type.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceWorkspace, ResourceSubspace, ResourceDocument:
		return true
	}
	return false
}

// ResourceRef identifies a single resource.
type ResourceRef struct {
	Type ResourceType `json:"resource_type"`
	ID   int64        `json:"resource_id"`
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// SourceType identifies the kind of record a grant row was materialized from.
// Every source type carries a fixed precedence tier and a fixed ceiling on
// the level it may grant.
type SourceType string

const (
	SourceDirect          SourceType = "direct"
	SourceGroup           SourceType = "group"
	SourceSubspaceAdmin   SourceType = "subspace_admin"
	SourceSubspaceMember  SourceType = "subspace_member"
	SourceWorkspaceAdmin  SourceType = "workspace_admin"
	SourceWorkspaceMember SourceType = "workspace_member"
	SourceGuest           SourceType = "guest"
)

// Source tiers. Higher wins during resolution regardless of where in the
// ancestor chain the row sits: an explicit per-document share beats implicit
// workspace membership even though the membership row is "closer" to nothing.
var sourceTiers = map[SourceType]int{
	SourceDirect:          70,
	SourceSubspaceAdmin:   60,
	SourceWorkspaceAdmin:  50,
	SourceGroup:           40,
	SourceSubspaceMember:  30,
	SourceWorkspaceMember: 20,
	SourceGuest:           10,
}

// Ceilings on what each source kind may grant. The materializer rejects any
// row above its source's ceiling rather than clamping it, so upstream bugs
// surface instead of being masked.
var sourceMaxLevels = map[SourceType]PermissionLevel{
	SourceDirect:          LevelOwner,
	SourceGroup:           LevelManage,
	SourceSubspaceAdmin:   LevelManage,
	SourceSubspaceMember:  LevelEdit,
	SourceWorkspaceAdmin:  LevelManage,
	SourceWorkspaceMember: LevelEdit,
	SourceGuest:           LevelEdit,
}

// Tier returns the source's precedence rank. Unknown sources rank below
// every known source.
func (s SourceType) Tier() int {
	return sourceTiers[s]
}

// MaxGrantableLevel returns the highest level a row from this source may carry.
func (s SourceType) MaxGrantableLevel() PermissionLevel {
	return sourceMaxLevels[s]
}

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	_, ok := sourceTiers[s]
	return ok
}

// Principal is the identity a grant row belongs to: a registered user or a
// guest, never both.
type Principal struct {
	UserID  *int64 `json:"user_id,omitempty"`
	GuestID *int64 `json:"guest_id,omitempty"`
}

// UserPrincipal returns a principal for a registered user.
func UserPrincipal(userID int64) Principal {
	return Principal{UserID: &userID}
}

// GuestPrincipal returns a principal for a guest identity.
func GuestPrincipal(guestID int64) Principal {
	return Principal{GuestID: &guestID}
}

// Valid reports whether exactly one identity is set.
func (p Principal) Valid() bool {
	return (p.UserID != nil) != (p.GuestID != nil)
}

// IsGuest reports whether the principal is a guest identity.
func (p Principal) IsGuest() bool {
	return p.GuestID != nil
}

func (p Principal) String() string {
	switch {
	case p.UserID != nil:
		return fmt.Sprintf("user:%d", *p.UserID)
	case p.GuestID != nil:
		return fmt.Sprintf("guest:%d", *p.GuestID)
	}
	return "principal:invalid"
}

// UnifiedPermission is one materialized grant row: a principal holds a
// permission level on a resource via a specific source record. Rows are
// derived state, reproducible from the underlying membership/share/group
// records; only the Materializer and the Sweeper write them.
type UnifiedPermission struct {
	ID          int64           `json:"id"`
	UserID      *int64          `json:"user_id,omitempty"`
	GuestID     *int64          `json:"guest_id,omitempty"`
	Type        ResourceType    `json:"resource_type"`
	ResourceID  int64           `json:"resource_id"`
	Permission  PermissionLevel `json:"permission"`
	Source      SourceType      `json:"source_type"`
	SourceID    int64           `json:"source_id"`
	Priority    int             `json:"priority"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	CreatedByID *int64          `json:"created_by_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Principal returns the row's principal identity.
func (u *UnifiedPermission) Principal() Principal {
	return Principal{UserID: u.UserID, GuestID: u.GuestID}
}

// Resource returns the row's resource reference.
func (u *UnifiedPermission) Resource() ResourceRef {
	return ResourceRef{Type: u.Type, ID: u.ResourceID}
}

// Expired reports whether the row is past its expiry at the given instant.
// Rows without an expiry never expire.
func (u *UnifiedPermission) Expired(now time.Time) bool {
	return u.ExpiresAt != nil && !u.ExpiresAt.After(now)
}

// Validate checks the row invariants that must hold before it may be written:
// exactly one principal identity, a known resource and source type, a level
// within the source's ceiling, and an expiry on every guest row.
func (u *UnifiedPermission) Validate() error {
	if !u.Principal().Valid() {
		return fmt.Errorf("%w: exactly one of user_id or guest_id must be set", ErrInvalidRow)
	}
	if !u.Type.Valid() {
		return fmt.Errorf("%w: unknown resource type %q", ErrInvalidRow, u.Type)
	}
	if !u.Source.Valid() {
		return fmt.Errorf("%w: unknown source type %q", ErrInvalidRow, u.Source)
	}
	if u.Permission <= LevelNone || u.Permission > LevelOwner {
		return fmt.Errorf("%w: permission %q is not grantable", ErrInvalidRow, u.Permission)
	}
	if u.Permission > u.Source.MaxGrantableLevel() {
		return fmt.Errorf("%w: %s row carries %s, ceiling is %s",
			ErrGrantExceedsSource, u.Source, u.Permission, u.Source.MaxGrantableLevel())
	}
	if u.Source == SourceGuest && u.ExpiresAt == nil {
		return fmt.Errorf("%w: guest rows require an expiry", ErrInvalidRow)
	}
	if u.Source == SourceGuest && u.GuestID == nil {
		return fmt.Errorf("%w: guest rows require a guest principal", ErrInvalidRow)
	}
	return nil
}

// RowKey is the uniqueness key of a materialized row. Upserts keyed on it
// make recomputation idempotent: replaying an event overwrites the same row
// instead of appending a duplicate.
type RowKey struct {
	Principal Principal
	Resource  ResourceRef
	Source    SourceType
	SourceID  int64
}

// Key returns the row's uniqueness key.
func (u *UnifiedPermission) Key() RowKey {
	return RowKey{
		Principal: u.Principal(),
		Resource:  u.Resource(),
		Source:    u.Source,
		SourceID:  u.SourceID,
	}
}
