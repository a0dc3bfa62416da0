package permissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionLevelOrdering(t *testing.T) {
	assert.True(t, LevelOwner.AtLeast(LevelManage))
	assert.True(t, LevelManage.AtLeast(LevelEdit))
	assert.True(t, LevelEdit.AtLeast(LevelComment))
	assert.True(t, LevelComment.AtLeast(LevelRead))
	assert.True(t, LevelRead.AtLeast(LevelNone))

	assert.False(t, LevelRead.AtLeast(LevelComment))
	assert.False(t, LevelNone.AtLeast(LevelRead))

	assert.Equal(t, LevelManage, MaxLevel(LevelRead, LevelManage))
	assert.Equal(t, LevelManage, MaxLevel(LevelManage, LevelRead))
}

func TestParsePermissionLevel(t *testing.T) {
	for _, name := range []string{"none", "read", "comment", "edit", "manage", "owner"} {
		level, err := ParsePermissionLevel(name)
		require.NoError(t, err)
		assert.Equal(t, name, level.String())
	}

	_, err := ParsePermissionLevel("superuser")
	assert.Error(t, err)

	_, err = ParsePermissionLevel("")
	assert.Error(t, err)
}

func TestSourceTypeTiers(t *testing.T) {
	// Explicit shares outrank admin roles, admin roles outrank groups,
	// groups outrank plain memberships, and guests rank last.
	ordered := []SourceType{
		SourceDirect,
		SourceSubspaceAdmin,
		SourceWorkspaceAdmin,
		SourceGroup,
		SourceSubspaceMember,
		SourceWorkspaceMember,
		SourceGuest,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i-1].Tier(), ordered[i].Tier(),
			"%s should outrank %s", ordered[i-1], ordered[i])
	}

	assert.Equal(t, 0, SourceType("bogus").Tier())
	assert.False(t, SourceType("bogus").Valid())
}

func TestSourceTypeCeilings(t *testing.T) {
	assert.Equal(t, LevelOwner, SourceDirect.MaxGrantableLevel())
	assert.Equal(t, LevelManage, SourceGroup.MaxGrantableLevel())
	assert.Equal(t, LevelManage, SourceSubspaceAdmin.MaxGrantableLevel())
	assert.Equal(t, LevelManage, SourceWorkspaceAdmin.MaxGrantableLevel())
	assert.Equal(t, LevelEdit, SourceSubspaceMember.MaxGrantableLevel())
	assert.Equal(t, LevelEdit, SourceWorkspaceMember.MaxGrantableLevel())
	assert.Equal(t, LevelEdit, SourceGuest.MaxGrantableLevel())
}

func TestPrincipalValidity(t *testing.T) {
	user := UserPrincipal(42)
	guest := GuestPrincipal(7)

	assert.True(t, user.Valid())
	assert.True(t, guest.Valid())
	assert.False(t, user.IsGuest())
	assert.True(t, guest.IsGuest())
	assert.Equal(t, "user:42", user.String())
	assert.Equal(t, "guest:7", guest.String())

	assert.False(t, Principal{}.Valid())

	id := int64(1)
	both := Principal{UserID: &id, GuestID: &id}
	assert.False(t, both.Valid())
}

func TestUnifiedPermissionValidate(t *testing.T) {
	userID := int64(42)
	guestID := int64(7)
	expires := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		row     UnifiedPermission
		wantErr error
	}{
		{
			name: "valid direct owner",
			row: UnifiedPermission{
				UserID:     &userID,
				Type:       ResourceDocument,
				ResourceID: 1,
				Permission: LevelOwner,
				Source:     SourceDirect,
				SourceID:   100,
			},
		},
		{
			name: "valid guest with expiry",
			row: UnifiedPermission{
				GuestID:    &guestID,
				Type:       ResourceDocument,
				ResourceID: 1,
				Permission: LevelRead,
				Source:     SourceGuest,
				SourceID:   100,
				ExpiresAt:  &expires,
			},
		},
		{
			name: "no principal",
			row: UnifiedPermission{
				Type:       ResourceDocument,
				ResourceID: 1,
				Permission: LevelRead,
				Source:     SourceDirect,
				SourceID:   100,
			},
			wantErr: ErrInvalidRow,
		},
		{
			name: "both principals",
			row: UnifiedPermission{
				UserID:     &userID,
				GuestID:    &guestID,
				Type:       ResourceDocument,
				ResourceID: 1,
				Permission: LevelRead,
				Source:     SourceDirect,
				SourceID:   100,
			},
			wantErr: ErrInvalidRow,
		},
		{
			name: "unknown resource type",
			row: UnifiedPermission{
				UserID:     &userID,
				Type:       ResourceType("folder"),
				ResourceID: 1,
				Permission: LevelRead,
				Source:     SourceDirect,
				SourceID:   100,
			},
			wantErr: ErrInvalidRow,
		},
		{
			name: "workspace member above ceiling",
			row: UnifiedPermission{
				UserID:     &userID,
				Type:       ResourceWorkspace,
				ResourceID: 1,
				Permission: LevelOwner,
				Source:     SourceWorkspaceMember,
				SourceID:   100,
			},
			wantErr: ErrGrantExceedsSource,
		},
		{
			name: "group above ceiling",
			row: UnifiedPermission{
				UserID:     &userID,
				Type:       ResourceDocument,
				ResourceID: 1,
				Permission: LevelOwner,
				Source:     SourceGroup,
				SourceID:   100,
			},
			wantErr: ErrGrantExceedsSource,
		},
		{
			name: "guest without expiry",
			row: UnifiedPermission{
				GuestID:    &guestID,
				Type:       ResourceDocument,
				ResourceID: 1,
				Permission: LevelRead,
				Source:     SourceGuest,
				SourceID:   100,
			},
			wantErr: ErrInvalidRow,
		},
		{
			name: "none is not grantable",
			row: UnifiedPermission{
				UserID:     &userID,
				Type:       ResourceDocument,
				ResourceID: 1,
				Permission: LevelNone,
				Source:     SourceDirect,
				SourceID:   100,
			},
			wantErr: ErrInvalidRow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.row.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestUnifiedPermissionExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	noExpiry := UnifiedPermission{}
	assert.False(t, noExpiry.Expired(now))

	expired := UnifiedPermission{ExpiresAt: &past}
	assert.True(t, expired.Expired(now))

	live := UnifiedPermission{ExpiresAt: &future}
	assert.False(t, live.Expired(now))

	// Expiry boundary is exclusive: a row expiring exactly now no longer
	// grants.
	boundary := UnifiedPermission{ExpiresAt: &now}
	assert.True(t, boundary.Expired(now))
}

func TestRowKey(t *testing.T) {
	userID := int64(42)
	row := UnifiedPermission{
		UserID:     &userID,
		Type:       ResourceDocument,
		ResourceID: 9,
		Permission: LevelEdit,
		Source:     SourceDirect,
		SourceID:   100,
	}

	key := row.Key()
	assert.Equal(t, UserPrincipal(42), key.Principal)
	assert.Equal(t, ResourceRef{Type: ResourceDocument, ID: 9}, key.Resource)
	assert.Equal(t, SourceDirect, key.Source)
	assert.Equal(t, int64(100), key.SourceID)
}
