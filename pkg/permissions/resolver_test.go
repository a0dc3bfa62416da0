package permissions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRows serves candidate rows from memory, filtering by principal and
// resource the way the store does.
type fakeRows struct {
	rows []*UnifiedPermission
	err  error
}

func (f *fakeRows) ListForPrincipalOnResources(_ context.Context, p Principal, refs []ResourceRef) ([]*UnifiedPermission, error) {
	if f.err != nil {
		return nil, f.err
	}
	wanted := make(map[ResourceRef]bool, len(refs))
	for _, ref := range refs {
		wanted[ref] = true
	}
	var out []*UnifiedPermission
	for _, row := range f.rows {
		if row.Principal().String() == p.String() && wanted[row.Resource()] {
			out = append(out, row)
		}
	}
	return out, nil
}

// fakeChain serves ancestor chains from a static map.
type fakeChain struct {
	chains map[ResourceRef][]ResourceRef
}

func (f *fakeChain) AncestorChain(_ context.Context, ref ResourceRef) ([]ResourceRef, error) {
	chain, ok := f.chains[ref]
	if !ok {
		return nil, ErrResourceNotFound
	}
	return chain, nil
}

func userRow(userID int64, ref ResourceRef, level PermissionLevel, source SourceType, sourceID int64) *UnifiedPermission {
	return &UnifiedPermission{
		UserID:     &userID,
		Type:       ref.Type,
		ResourceID: ref.ID,
		Permission: level,
		Source:     source,
		SourceID:   sourceID,
	}
}

func guestRow(guestID int64, ref ResourceRef, level PermissionLevel, sourceID int64, expires time.Time) *UnifiedPermission {
	return &UnifiedPermission{
		GuestID:    &guestID,
		Type:       ref.Type,
		ResourceID: ref.ID,
		Permission: level,
		Source:     SourceGuest,
		SourceID:   sourceID,
		ExpiresAt:  &expires,
	}
}

var (
	testDoc       = ResourceRef{Type: ResourceDocument, ID: 1}
	testSubspace  = ResourceRef{Type: ResourceSubspace, ID: 10}
	testWorkspace = ResourceRef{Type: ResourceWorkspace, ID: 100}
	testChain     = []ResourceRef{testDoc, testSubspace, testWorkspace}
)

func TestReduceNoRows(t *testing.T) {
	res := Reduce(nil, testChain, time.Now())
	assert.Equal(t, LevelNone, res.Level)
	assert.Nil(t, res.Winner)
	assert.Equal(t, 0, res.Considered)
}

func TestReduceDirectShareBeatsWorkspaceMembership(t *testing.T) {
	// A READ direct share on the document restricts a user whose workspace
	// membership would otherwise grant EDIT. Explicit beats implicit even
	// when explicit is lower.
	rows := []*UnifiedPermission{
		userRow(42, testWorkspace, LevelEdit, SourceWorkspaceMember, 1),
		userRow(42, testDoc, LevelRead, SourceDirect, 2),
	}

	res := Reduce(rows, testChain, time.Now())
	assert.Equal(t, LevelRead, res.Level)
	require.NotNil(t, res.Winner)
	assert.Equal(t, SourceDirect, res.Winner.Source)
	assert.Equal(t, 2, res.Considered)
}

func TestReduceAdminBeatsGroup(t *testing.T) {
	rows := []*UnifiedPermission{
		userRow(42, testDoc, LevelManage, SourceGroup, 1),
		userRow(42, testWorkspace, LevelRead, SourceWorkspaceAdmin, 2),
	}

	res := Reduce(rows, testChain, time.Now())
	assert.Equal(t, LevelRead, res.Level)
	assert.Equal(t, SourceWorkspaceAdmin, res.Winner.Source)
}

func TestReduceSubspaceAdminBeatsWorkspaceAdmin(t *testing.T) {
	rows := []*UnifiedPermission{
		userRow(42, testWorkspace, LevelManage, SourceWorkspaceAdmin, 1),
		userRow(42, testSubspace, LevelEdit, SourceSubspaceAdmin, 2),
	}

	res := Reduce(rows, testChain, time.Now())
	assert.Equal(t, LevelEdit, res.Level)
	assert.Equal(t, SourceSubspaceAdmin, res.Winner.Source)
}

func TestReduceSameTierPriorityWins(t *testing.T) {
	// Two group rows on the same resource: the lower stored priority wins
	// regardless of level.
	low := userRow(42, testDoc, LevelRead, SourceGroup, 1)
	low.Priority = 0
	high := userRow(42, testDoc, LevelManage, SourceGroup, 2)
	high.Priority = 5

	res := Reduce([]*UnifiedPermission{high, low}, testChain, time.Now())
	assert.Equal(t, LevelRead, res.Level)
	assert.Equal(t, int64(1), res.Winner.SourceID)
}

func TestReduceSameTierCloserRowWins(t *testing.T) {
	// Equal tier and priority: the row nearer the resource wins.
	rows := []*UnifiedPermission{
		userRow(42, testWorkspace, LevelManage, SourceGroup, 1),
		userRow(42, testDoc, LevelEdit, SourceGroup, 2),
	}

	res := Reduce(rows, testChain, time.Now())
	assert.Equal(t, LevelEdit, res.Level)
	assert.Equal(t, int64(2), res.Winner.SourceID)
}

func TestReduceSameTierSameDistanceHigherLevelWins(t *testing.T) {
	a := userRow(42, testDoc, LevelRead, SourceGroup, 1)
	b := userRow(42, testDoc, LevelManage, SourceGroup, 2)
	a.Priority, b.Priority = 3, 3

	res := Reduce([]*UnifiedPermission{a, b}, testChain, time.Now())
	assert.Equal(t, LevelManage, res.Level)
}

func TestReduceExpiredRowsNeverContribute(t *testing.T) {
	now := time.Now()
	rows := []*UnifiedPermission{
		guestRow(7, testDoc, LevelEdit, 1, now.Add(-time.Minute)),
	}

	res := Reduce(rows, testChain, now)
	assert.Equal(t, LevelNone, res.Level)
	assert.Nil(t, res.Winner)
	assert.Equal(t, 0, res.Considered)
}

func TestReduceLiveGuestRowGrants(t *testing.T) {
	now := time.Now()
	rows := []*UnifiedPermission{
		guestRow(7, testDoc, LevelComment, 1, now.Add(time.Hour)),
	}

	res := Reduce(rows, testChain, now)
	assert.Equal(t, LevelComment, res.Level)
}

func TestReduceOffChainRowsIgnored(t *testing.T) {
	otherDoc := ResourceRef{Type: ResourceDocument, ID: 999}
	rows := []*UnifiedPermission{
		userRow(42, otherDoc, LevelOwner, SourceDirect, 1),
	}

	res := Reduce(rows, testChain, time.Now())
	assert.Equal(t, LevelNone, res.Level)
	assert.Equal(t, 0, res.Considered)
}

func TestReduceDeterministicAcrossInputOrder(t *testing.T) {
	rows := []*UnifiedPermission{
		userRow(42, testWorkspace, LevelEdit, SourceWorkspaceMember, 1),
		userRow(42, testDoc, LevelRead, SourceDirect, 2),
		userRow(42, testSubspace, LevelManage, SourceSubspaceAdmin, 3),
		userRow(42, testDoc, LevelManage, SourceGroup, 4),
	}
	reversed := []*UnifiedPermission{rows[3], rows[2], rows[1], rows[0]}

	now := time.Now()
	forward := Reduce(rows, testChain, now)
	backward := Reduce(reversed, testChain, now)

	assert.Equal(t, forward.Level, backward.Level)
	assert.Equal(t, forward.Winner.SourceID, backward.Winner.SourceID)
}

func TestResolverResolve(t *testing.T) {
	chains := &fakeChain{chains: map[ResourceRef][]ResourceRef{
		testDoc: testChain,
	}}
	rows := &fakeRows{rows: []*UnifiedPermission{
		userRow(42, testWorkspace, LevelEdit, SourceWorkspaceMember, 1),
	}}

	resolver := NewResolver(rows, chains)

	res, err := resolver.Resolve(context.Background(), UserPrincipal(42), testDoc)
	require.NoError(t, err)
	assert.Equal(t, LevelEdit, res.Level)
	assert.Equal(t, 1, res.Considered)

	// A different user holds nothing on the chain.
	res, err = resolver.Resolve(context.Background(), UserPrincipal(43), testDoc)
	require.NoError(t, err)
	assert.Equal(t, LevelNone, res.Level)
}

func TestResolverUnknownResource(t *testing.T) {
	resolver := NewResolver(&fakeRows{}, &fakeChain{chains: map[ResourceRef][]ResourceRef{}})

	_, err := resolver.Resolve(context.Background(), UserPrincipal(42), testDoc)
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestResolverInvalidPrincipal(t *testing.T) {
	resolver := NewResolver(&fakeRows{}, &fakeChain{})

	_, err := resolver.Resolve(context.Background(), Principal{}, testDoc)
	assert.ErrorIs(t, err, ErrInvalidPrincipal)
}

func TestResolverStoreFailurePropagates(t *testing.T) {
	chains := &fakeChain{chains: map[ResourceRef][]ResourceRef{testDoc: testChain}}
	rows := &fakeRows{err: errors.New("connection refused")}

	resolver := NewResolver(rows, chains)

	_, err := resolver.Resolve(context.Background(), UserPrincipal(42), testDoc)
	assert.Error(t, err)
}
