package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDirectRoomIsUniquePerPair(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]

	room := seedDirectRoom(f, alice, bob)
	require.Len(t, room.Members, 2)

	// Same pair in either order conflicts.
	_, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
		Type:    DirectRoom,
		Members: []string{bob.ID, alice.ID},
	})
	assert.ErrorIs(t, err, ErrConflictedRoom)
}

func TestCreateRoomValidation(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob", "carol")
	alice, bob, carol := users[0], users[1], users[2]

	// direct rooms have exactly two members and no name
	_, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
		Type:    DirectRoom,
		Members: []string{alice.ID, bob.ID, carol.ID},
	})
	assert.ErrorIs(t, err, ErrInvalidRoom)

	// group rooms need a name
	_, err = f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
		Type:    GroupRoom,
		Members: []string{alice.ID, bob.ID},
	})
	assert.ErrorIs(t, err, ErrInvalidRoom)

	// all members must exist
	_, err = f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
		Type:    DirectRoom,
		Members: []string{alice.ID, "no-such-user"},
	})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestCreateGroupRoomAssignsRoles(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]

	room := seedGroupRoom(f, "team", alice, bob)

	fetched, err := f.chatStore.GetRoomByID(f.ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)

	roles := make(map[string]MemberRole)
	for _, m := range fetched.Members {
		roles[m.UserID] = m.Role
	}
	assert.Equal(t, RoleAdmin, roles[alice.ID])
	assert.Equal(t, RoleMember, roles[bob.ID])
}

func TestDeleteRoom(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]
	room := seedDirectRoom(f, alice, bob)

	_, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: room.ID, Sender: alice.ID, Content: "hi", Type: TextMessage,
	})
	require.NoError(t, err)

	require.NoError(t, f.chatStore.DeleteRoom(f.ctx, room.ID))

	fetched, err := f.chatStore.GetRoomByID(f.ctx, room.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched)

	messages, err := f.chatStore.RoomMessages(f.ctx, room.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)

	assert.ErrorIs(t, f.chatStore.DeleteRoom(f.ctx, room.ID), ErrInvalidRoom)
}

func TestPersistMessageSeedsReadBy(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]
	room := seedDirectRoom(f, alice, bob)

	msg, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: room.ID, Sender: alice.ID, SenderName: alice.Username,
		Content: "hello", Type: TextMessage,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{alice.ID}, msg.ReadBy)

	fetched, err := f.chatStore.GetMessage(f.ctx, room.ID, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, []string{alice.ID}, fetched.ReadBy)
}

func TestGetMessageScopedToRoom(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob", "carol")
	alice, bob, carol := users[0], users[1], users[2]
	room := seedDirectRoom(f, alice, bob)
	other := seedDirectRoom(f, alice, carol)

	msg, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: room.ID, Sender: alice.ID, Content: "hi", Type: TextMessage,
	})
	require.NoError(t, err)

	fetched, err := f.chatStore.GetMessage(f.ctx, other.ID, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched)
}

func TestMarkMessagesReadIsIdempotentAndScoped(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob", "carol")
	alice, bob, carol := users[0], users[1], users[2]
	room := seedDirectRoom(f, alice, bob)
	other := seedDirectRoom(f, alice, carol)

	m1, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: room.ID, Sender: alice.ID, Content: "one", Type: TextMessage,
	})
	require.NoError(t, err)
	m2, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: room.ID, Sender: alice.ID, Content: "two", Type: TextMessage,
	})
	require.NoError(t, err)
	foreign, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: other.ID, Sender: alice.ID, Content: "elsewhere", Type: TextMessage,
	})
	require.NoError(t, err)

	// ids outside the room are filtered without failing the batch
	applied, err := f.chatStore.MarkMessagesRead(f.ctx, room.ID, bob.ID,
		[]string{m1.ID, m2.ID, foreign.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, applied)

	// re-marking grows nothing
	applied, err = f.chatStore.MarkMessagesRead(f.ctx, room.ID, bob.ID, []string{m1.ID, m2.ID})
	require.NoError(t, err)
	assert.Empty(t, applied)

	fetched, err := f.chatStore.GetMessage(f.ctx, room.ID, m1.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, fetched.ReadBy)
}

func TestRoomsWithSummariesOrdering(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob", "carol")
	alice, bob, carol := users[0], users[1], users[2]
	first := seedDirectRoom(f, alice, bob)
	second := seedDirectRoom(f, alice, carol)

	msg, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: first.ID, Sender: bob.ID, Content: "newest", Type: TextMessage,
	})
	require.NoError(t, err)
	require.NoError(t, f.chatStore.UpdateRoomSummary(f.ctx, first.ID, LastMessage{
		Content: msg.Content, Sender: msg.Sender, Timestamp: msg.SentAt, Type: msg.Type,
	}))

	rooms, err := f.chatStore.RoomsWithSummaries(f.ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, first.ID, rooms[0].ID)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "newest", rooms[0].LastMessage.Content)
	assert.Equal(t, second.ID, rooms[1].ID)
	assert.Nil(t, rooms[1].LastMessage)
}

func TestPendingDeliveries(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]
	room := seedDirectRoom(f, alice, bob)

	m1, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: room.ID, Sender: alice.ID, Content: "one", Type: TextMessage,
	})
	require.NoError(t, err)
	m2, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: room.ID, Sender: alice.ID, Content: "two", Type: TextMessage,
	})
	require.NoError(t, err)

	require.NoError(t, f.chatStore.MarkUndelivered(f.ctx, m1.ID, []string{bob.ID}))
	require.NoError(t, f.chatStore.MarkUndelivered(f.ctx, m2.ID, []string{bob.ID}))
	// duplicate marks are a no-op
	require.NoError(t, f.chatStore.MarkUndelivered(f.ctx, m1.ID, []string{bob.ID}))

	pending, err := f.chatStore.PendingFor(f.ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, m1.ID, pending[0].ID)
	assert.Equal(t, m2.ID, pending[1].ID)

	require.NoError(t, f.chatStore.ClearPending(f.ctx, bob.ID, []string{m1.ID, m2.ID}))
	pending, err = f.chatStore.PendingFor(f.ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReplyToResolvedOnPersist(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]
	room := seedDirectRoom(f, alice, bob)

	original, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: room.ID, Sender: alice.ID, Content: "original", Type: TextMessage,
	})
	require.NoError(t, err)

	reply, err := f.chatStore.PersistMessage(f.ctx, MessageCreateInput{
		RoomID: room.ID, Sender: bob.ID, Content: "reply", Type: TextMessage,
		ReplyTo: original.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, original.ID, reply.ReplyTo.ID)
	assert.Equal(t, "original", reply.ReplyTo.Content)
}
