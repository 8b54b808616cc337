package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func seedUsers(ctx context.Context, t *testing.T, userStore UserStore, usernames ...string) []*User {
	users := make([]*User, 0, len(usernames))
	for _, username := range usernames {
		u, err := userStore.CreateUser(ctx, username, "password-"+username)
		if err != nil {
			t.Fatal(err)
		}
		users = append(users, u)
	}
	return users
}

func seedDirectRoom(f *ChatFixture, a, b *User) *Room {
	room, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
		Type:    DirectRoom,
		Members: []string{a.ID, b.ID},
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return room
}

func seedGroupRoom(f *ChatFixture, name string, admin *User, members ...*User) *Room {
	ids := []string{admin.ID}
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	room, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
		Type:    GroupRoom,
		Name:    name,
		Members: ids,
		Admins:  []string{admin.ID},
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return room
}

// newTestConn builds a transport-less connection. Fan-out only touches
// the out channel and the done signal, so tests can inspect delivery
// without a websocket.
func newTestConn(identity Identity, id int64, buffer int) *Conn {
	return &Conn{
		identity: identity,
		id:       id,
		out:      make(chan *Event, buffer),
		done:     make(chan struct{}),
	}
}

// registerTestConn makes the connection visible to the registry and
// room index as if it had completed the handshake.
func registerTestConn(f *ChatFixture, r *Registry, user *User, id int64) *Conn {
	c := newTestConn(Identity{ID: user.ID, Username: user.Username}, id, r.sendBuffer)
	c.onClose = r.unregister
	if err := r.register(f.ctx, c); err != nil {
		f.t.Fatal(err)
	}
	return c
}

// receiveEvent pops one delivered event or fails the test.
func receiveEvent(t *testing.T, c *Conn) *Event {
	select {
	case e := <-c.out:
		return e
	case <-time.After(time.Second):
		t.Fatalf("conn %d: no event delivered", c.id)
		return nil
	}
}

// noEvent asserts nothing was delivered to the connection.
func noEvent(t *testing.T, c *Conn) {
	select {
	case e := <-c.out:
		t.Fatalf("conn %d: unexpected %s event", c.id, e.Type)
	default:
	}
}

func decodePayload[T any](t *testing.T, e *Event) T {
	var payload T
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	return payload
}
