package core

import (
	"context"
	"fmt"
	"log/slog"
)

type UserTypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// TypingCoordinator relays ephemeral typing state to a room's other
// live subscribers. It keeps no state and runs no timers: the auto-clear
// after silence is the sending client's debounce, so there is nothing
// to clean up on disconnect.
type TypingCoordinator struct {
	store    ChatStore
	index    *RoomIndex
	registry *Registry
	logger   *slog.Logger
}

func NewTypingCoordinator(store ChatStore, index *RoomIndex, registry *Registry, logger *slog.Logger) *TypingCoordinator {
	return &TypingCoordinator{store: store, index: index, registry: registry, logger: logger}
}

// SetTyping forwards the typing flag to every live subscriber of the
// room except the originating connection. The sender's other devices do
// receive it, mirroring what counterparties see.
func (tc *TypingCoordinator) SetTyping(ctx context.Context, sender *Conn, roomID string, isTyping bool) error {
	identity := sender.Identity()
	ok, err := tc.store.IsMember(ctx, roomID, identity.ID)
	if err != nil {
		return fmt.Errorf("IsMember: %w", err)
	}
	if !ok {
		return ErrNotRoomMember
	}

	event, err := NewEvent(UserTypingEvent, UserTypingPayload{
		RoomID:   roomID,
		UserID:   identity.ID,
		Username: identity.Username,
		IsTyping: isTyping,
	})
	if err != nil {
		return fmt.Errorf("marshal user-typing: %w", err)
	}
	for _, c := range tc.index.Subscribers(roomID) {
		if c == sender {
			continue
		}
		tc.registry.sendOrKill(c, event)
	}
	return nil
}
