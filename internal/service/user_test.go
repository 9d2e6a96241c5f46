package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
)

func TestUserService_CreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.users.CreateUser(ctx, model.CreateUserRequest{Name: " Grace ", Email: "Grace@Club.Test", IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, "Grace", u.Name)
	assert.Equal(t, "grace@club.test", u.Email)
	assert.True(t, u.IsAdmin)

	_, err = f.users.CreateUser(ctx, model.CreateUserRequest{Name: "Other", Email: "grace@club.test"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	got, err := f.users.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	_, err = f.users.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	all, err := f.users.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUserService_CreateUser_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []model.CreateUserRequest{
		{Name: "", Email: "a@b.c"},
		{Name: "a", Email: "nope"},
		{Name: "a", Email: "a@b@c.d"},
		{Name: "a", Email: "@club.test"},
	} {
		_, err := f.users.CreateUser(ctx, req)
		assert.ErrorIs(t, err, ErrValidation, "%+v", req)
	}
}
