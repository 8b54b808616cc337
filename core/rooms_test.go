package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRequiresPersistedMembership(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob", "mallory")
	alice, bob, mallory := users[0], users[1], users[2]
	room := seedDirectRoom(f, alice, bob)

	index := NewRoomIndex(f.chatStore, f.logger)

	member := newTestConn(Identity{ID: alice.ID, Username: alice.Username}, 1, 8)
	outsider := newTestConn(Identity{ID: mallory.ID, Username: mallory.Username}, 2, 8)

	require.NoError(t, index.Join(f.ctx, member, room.ID))
	assert.ErrorIs(t, index.Join(f.ctx, outsider, room.ID), ErrNotRoomMember)

	subs := index.Subscribers(room.ID)
	require.Len(t, subs, 1)
	assert.Same(t, member, subs[0])
}

func TestSubscribeAllAndDrop(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob", "carol")
	alice, bob, carol := users[0], users[1], users[2]
	r1 := seedDirectRoom(f, alice, bob)
	r2 := seedDirectRoom(f, alice, carol)

	index := NewRoomIndex(f.chatStore, f.logger)
	c := newTestConn(Identity{ID: alice.ID, Username: alice.Username}, 1, 8)

	require.NoError(t, index.SubscribeAll(f.ctx, c))
	assert.Len(t, index.Subscribers(r1.ID), 1)
	assert.Len(t, index.Subscribers(r2.ID), 1)

	index.Drop(c)
	assert.Empty(t, index.Subscribers(r1.ID))
	assert.Empty(t, index.Subscribers(r2.ID))
}

func TestLeaveDropsOnlySubscription(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]
	room := seedDirectRoom(f, alice, bob)

	index := NewRoomIndex(f.chatStore, f.logger)
	c := newTestConn(Identity{ID: alice.ID, Username: alice.Username}, 1, 8)
	require.NoError(t, index.Join(f.ctx, c, room.ID))

	index.Leave(c, room.ID)
	assert.Empty(t, index.Subscribers(room.ID))

	// persisted membership is untouched, re-joining works
	ok, err := f.chatStore.IsMember(f.ctx, room.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, index.Join(f.ctx, c, room.ID))
}

func TestEvictReturnsSubscribers(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]
	room := seedDirectRoom(f, alice, bob)

	index := NewRoomIndex(f.chatStore, f.logger)
	c1 := newTestConn(Identity{ID: alice.ID, Username: alice.Username}, 1, 8)
	c2 := newTestConn(Identity{ID: bob.ID, Username: bob.Username}, 2, 8)
	require.NoError(t, index.Join(f.ctx, c1, room.ID))
	require.NoError(t, index.Join(f.ctx, c2, room.ID))

	evicted := index.Evict(room.ID)
	assert.ElementsMatch(t, []*Conn{c1, c2}, evicted)
	assert.Empty(t, index.Subscribers(room.ID))
}
