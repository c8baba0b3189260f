package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accessmodels "warden/internal/access/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	"warden/pkg/testutil"
)

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	actor := testutil.NewActor(accessmodels.RoleModerator).WithGrant(accessmodels.PermAuditView, nil).Build()

	require.NoError(t, s.Create(ctx, actor))
	assert.ErrorIs(t, s.Create(ctx, actor), sentinel.ErrAlreadyExists)

	got, err := s.GetActor(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, actor, got)

	got.Grants[0].Permission = accessmodels.PermUsersBan
	again, err := s.GetActor(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, accessmodels.PermAuditView, again.Grants[0].Permission, "callers get copies")

	_, err = s.GetActor(ctx, id.NewActorID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	actor := testutil.NewActor(accessmodels.RoleUser).Build()
	require.NoError(t, s.Create(ctx, actor))

	t.Run("failed mutation is discarded", func(t *testing.T) {
		_, err := s.Update(ctx, actor.ID, func(a *accessmodels.Actor) error {
			a.Banned = true
			return errors.New("nope")
		})
		require.Error(t, err)
		got, err := s.GetActor(ctx, actor.ID)
		require.NoError(t, err)
		assert.False(t, got.Banned)
	})

	t.Run("unknown actor", func(t *testing.T) {
		_, err := s.Update(ctx, id.NewActorID(), func(*accessmodels.Actor) error { return nil })
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("concurrent updates serialize", func(t *testing.T) {
		res := testutil.RunConcurrent(50, func(int) error {
			_, err := s.Update(ctx, actor.ID, func(a *accessmodels.Actor) error {
				a.Grants = append(a.Grants, accessmodels.Grant{Permission: accessmodels.PermUsersView})
				return nil
			})
			return err
		})
		assert.Equal(t, int32(50), res.Successes)
		got, err := s.GetActor(ctx, actor.ID)
		require.NoError(t, err)
		assert.Len(t, got.Grants, 50)
	})
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	s := New()
	actor := testutil.NewActor(accessmodels.RoleSupport).Build()

	res := testutil.RunConcurrent(20, func(int) error {
		return s.Create(context.Background(), actor)
	})

	assert.Equal(t, int32(1), res.Successes)
	assert.Equal(t, int32(19), res.Conflicts)
}
