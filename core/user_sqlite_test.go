package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserAndVerifyPassword(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	user, err := f.userStore.CreateUser(f.ctx, "alice", "super-secret")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, StatusOffline, user.Status)

	// passwords are stored hashed
	fetched, err := f.userStore.GetUserByUsername(f.ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.NotEqual(t, "super-secret", fetched.PasswordHash)

	verified, err := f.userStore.VerifyPassword(f.ctx, "alice", "super-secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)

	_, err = f.userStore.VerifyPassword(f.ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = f.userStore.VerifyPassword(f.ctx, "nobody", "whatever")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestCreateUserRejectsTakenUsername(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	_, err := f.userStore.CreateUser(f.ctx, "alice", "super-secret")
	require.NoError(t, err)

	_, err = f.userStore.CreateUser(f.ctx, "alice", "another")
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestPersistPresenceUpdatesUserRow(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	user, err := f.userStore.CreateUser(f.ctx, "alice", "super-secret")
	require.NoError(t, err)

	lastSeen := time.Now()
	require.NoError(t, f.userStore.PersistPresence(f.ctx, user.ID, StatusAway, lastSeen))

	fetched, err := f.userStore.GetUserByID(f.ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAway, fetched.Status)
	assert.WithinDuration(t, lastSeen, fetched.LastSeen, time.Second)

	assert.ErrorIs(t, f.userStore.PersistPresence(f.ctx, "no-such-user", StatusOnline, lastSeen), ErrInvalidUser)
}
