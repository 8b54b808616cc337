package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// RoomIndex maps room ids to the set of live connections subscribed to
// them. Persisted membership in the store is authoritative; the index
// is a derived cache rebuilt per connection at subscribe time, so it is
// always reconstructible after a restart.
type RoomIndex struct {
	store  ChatStore
	logger *slog.Logger

	mu     sync.RWMutex
	rooms  map[string]map[*Conn]struct{}
	byConn map[*Conn]map[string]struct{}
}

func NewRoomIndex(store ChatStore, logger *slog.Logger) *RoomIndex {
	return &RoomIndex{
		store:  store,
		logger: logger,
		rooms:  make(map[string]map[*Conn]struct{}),
		byConn: make(map[*Conn]map[string]struct{}),
	}
}

// Join subscribes the connection to a room. Persisted membership is
// re-checked on every call; a join request is never trusted from the
// client.
func (ri *RoomIndex) Join(ctx context.Context, c *Conn, roomID string) error {
	ok, err := ri.store.IsMember(ctx, roomID, c.identity.ID)
	if err != nil {
		return fmt.Errorf("IsMember: %w", err)
	}
	if !ok {
		return ErrNotRoomMember
	}
	ri.mu.Lock()
	ri.subscribe(c, roomID)
	ri.mu.Unlock()
	return nil
}

// Leave drops the connection's subscription. It does not alter
// persisted membership.
func (ri *RoomIndex) Leave(c *Conn, roomID string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if subs, ok := ri.rooms[roomID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(ri.rooms, roomID)
		}
	}
	if rooms, ok := ri.byConn[c]; ok {
		delete(rooms, roomID)
	}
}

// SubscribeAll subscribes the connection to every room its identity is
// a persisted member of. The whole batch is applied under one lock so
// fan-out sees either all subscriptions or none.
func (ri *RoomIndex) SubscribeAll(ctx context.Context, c *Conn) error {
	roomIDs, err := ri.store.RoomsFor(ctx, c.identity.ID)
	if err != nil {
		return fmt.Errorf("RoomsFor: %w", err)
	}
	ri.mu.Lock()
	for _, roomID := range roomIDs {
		ri.subscribe(c, roomID)
	}
	ri.mu.Unlock()
	return nil
}

// Drop removes the connection from every room it is subscribed to.
func (ri *RoomIndex) Drop(c *Conn) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	for roomID := range ri.byConn[c] {
		if subs, ok := ri.rooms[roomID]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(ri.rooms, roomID)
			}
		}
	}
	delete(ri.byConn, c)
}

// Subscribers returns a snapshot of the room's live connections.
func (ri *RoomIndex) Subscribers(roomID string) []*Conn {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	subs := ri.rooms[roomID]
	out := make([]*Conn, 0, len(subs))
	for c := range subs {
		out = append(out, c)
	}
	return out
}

// Evict unsubscribes every live connection from a deleted room and
// returns the connections that were subscribed so they can be notified.
func (ri *RoomIndex) Evict(roomID string) []*Conn {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	subs := ri.rooms[roomID]
	out := make([]*Conn, 0, len(subs))
	for c := range subs {
		out = append(out, c)
		delete(ri.byConn[c], roomID)
	}
	delete(ri.rooms, roomID)
	return out
}

func (ri *RoomIndex) subscribe(c *Conn, roomID string) {
	subs, ok := ri.rooms[roomID]
	if !ok {
		subs = make(map[*Conn]struct{})
		ri.rooms[roomID] = subs
	}
	subs[c] = struct{}{}

	rooms, ok := ri.byConn[c]
	if !ok {
		rooms = make(map[string]struct{})
		ri.byConn[c] = rooms
	}
	rooms[roomID] = struct{}{}
}
