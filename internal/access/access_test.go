package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-manager/internal/audit"
	"github.com/2389/assistant-manager/internal/store"
)

const owner int64 = 1000

func setup(t *testing.T) (*Control, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	return New(owner, s, audit.New(s, nil), nil), s
}

func TestIsAuthorized(t *testing.T) {
	c, s := setup(t)
	ctx := context.Background()
	require.NoError(t, s.AddAdmin(ctx, &store.Admin{UserID: 55, AddedBy: owner}))

	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{"owner", owner, true},
		{"admin", 55, true},
		{"stranger", 99, false},
		{"zero id", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsAuthorized(ctx, tt.id))
		})
	}
}

func TestIsAuthorized_StoreFailureDenies(t *testing.T) {
	c, s := setup(t)
	ctx := context.Background()
	require.NoError(t, s.AddAdmin(ctx, &store.Admin{UserID: 55, AddedBy: owner}))
	s.SetFail("IsAdmin", true)

	assert.False(t, c.IsAuthorized(ctx, 55))
	assert.True(t, c.IsAuthorized(ctx, owner), "owner does not depend on the store")
	assert.ErrorIs(t, c.Authorize(ctx, 55), ErrUnauthorized)
}

func TestGrantAndRevokeAdmin(t *testing.T) {
	c, s := setup(t)
	ctx := context.Background()

	require.NoError(t, c.GrantAdmin(ctx, owner, 55))
	assert.True(t, c.IsAuthorized(ctx, 55))
	assert.ErrorIs(t, c.GrantAdmin(ctx, owner, 55), ErrAlreadyAdmin)

	admins, err := c.Admins(ctx, owner)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, int64(55), admins[0].UserID)

	require.NoError(t, c.RevokeAdmin(ctx, owner, 55))
	assert.False(t, c.IsAuthorized(ctx, 55))
	assert.ErrorIs(t, c.RevokeAdmin(ctx, owner, 55), ErrNotAdmin)

	logs, err := s.ListLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, string(audit.KindAdminRemove), logs[0].Kind)
	assert.Equal(t, string(audit.KindAdminAdd), logs[1].Kind)
}

func TestAdminManagement_OwnerOnly(t *testing.T) {
	c, s := setup(t)
	ctx := context.Background()
	require.NoError(t, s.AddAdmin(ctx, &store.Admin{UserID: 55, AddedBy: owner}))

	assert.ErrorIs(t, c.GrantAdmin(ctx, 55, 66), ErrForbidden)
	assert.ErrorIs(t, c.RevokeAdmin(ctx, 55, 55), ErrForbidden)
	_, err := c.Admins(ctx, 55)
	assert.ErrorIs(t, err, ErrForbidden)

	assert.ErrorIs(t, c.GrantAdmin(ctx, 99, 66), ErrUnauthorized)

	ok, err := s.IsAdmin(ctx, 66)
	require.NoError(t, err)
	assert.False(t, ok, "no mutation on rejected grant")

	logs, err := s.ListLogs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestOwnerImmutable(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.GrantAdmin(ctx, owner, owner), ErrOwnerImmutable)
	assert.ErrorIs(t, c.RevokeAdmin(ctx, owner, owner), ErrOwnerImmutable)
}
