package permissions

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKinds(t *testing.T) {
	events := []Event{
		WorkspaceRoleChanged{},
		SubspaceRoleChanged{},
		GroupMembershipChanged{},
		GroupGrantChanged{},
		DirectShareChanged{},
		GuestAccessChanged{},
		ResourceMoved{},
	}

	seen := make(map[string]bool)
	for _, ev := range events {
		kind := ev.Kind()
		assert.NotEmpty(t, kind)
		assert.False(t, seen[kind], "duplicate kind %q", kind)
		seen[kind] = true
	}
}

func TestSQLGroupDirectoryMembersOf(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewSQLGroupDirectory(db)

	mock.ExpectQuery("SELECT user_id FROM group_members").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(42)).AddRow(int64(43)))

	members, err := dir.MembersOf(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 43}, members)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGroupDirectoryGrantsOf(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewSQLGroupDirectory(db)

	rows := sqlmock.NewRows([]string{"id", "group_id", "resource_type", "resource_id", "permission", "priority"}).
		AddRow(int64(30), int64(3), "document", int64(1), "edit", 0).
		AddRow(int64(31), int64(3), "subspace", int64(10), "read", 2)

	mock.ExpectQuery("SELECT (.+) FROM group_grants").
		WithArgs(int64(3)).
		WillReturnRows(rows)

	grants, err := dir.GrantsOf(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, LevelEdit, grants[0].Level)
	assert.Equal(t, testDoc, grants[0].Resource)
	assert.Equal(t, 2, grants[1].Priority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGroupDirectoryBadPermission(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewSQLGroupDirectory(db)

	rows := sqlmock.NewRows([]string{"id", "group_id", "resource_type", "resource_id", "permission", "priority"}).
		AddRow(int64(30), int64(3), "document", int64(1), "superuser", 0)

	mock.ExpectQuery("SELECT (.+) FROM group_grants").
		WithArgs(int64(3)).
		WillReturnRows(rows)

	_, err = dir.GrantsOf(context.Background(), 3)
	assert.Error(t, err)
}
