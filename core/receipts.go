package core

import (
	"context"
	"fmt"
	"log/slog"
)

type MessagesReadPayload struct {
	RoomID     string   `json:"room_id"`
	Reader     string   `json:"reader"`
	MessageIDs []string `json:"message_ids"`
}

// ReadReceipts records per-message read state and propagates batched
// updates to the room's other live subscribers.
type ReadReceipts struct {
	store    ChatStore
	index    *RoomIndex
	registry *Registry
	logger   *slog.Logger
}

func NewReadReceipts(store ChatStore, index *RoomIndex, registry *Registry, logger *slog.Logger) *ReadReceipts {
	return &ReadReceipts{store: store, index: index, registry: registry, logger: logger}
}

// MarkRead adds the reader to the readBy set of each listed message.
// The union is idempotent: re-marking a read message neither grows the
// set nor re-broadcasts. Ids outside the room are filtered without
// failing the batch. It returns the ids that were newly applied.
//
// Fan-out rule: the batched messages-read event goes to every live
// subscriber of the room except the reader's own connections; the
// reader already knows what it read.
func (rr *ReadReceipts) MarkRead(ctx context.Context, reader *Conn, roomID string, messageIDs []string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	identity := reader.Identity()
	ok, err := rr.store.IsMember(ctx, roomID, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("IsMember: %w", err)
	}
	if !ok {
		return nil, ErrNotRoomMember
	}

	applied, err := rr.store.MarkMessagesRead(ctx, roomID, identity.ID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("MarkMessagesRead: %w", err)
	}
	if len(applied) == 0 {
		return applied, nil
	}

	event, err := NewEvent(MessagesReadEvent, MessagesReadPayload{
		RoomID:     roomID,
		Reader:     identity.ID,
		MessageIDs: applied,
	})
	if err != nil {
		return applied, fmt.Errorf("marshal messages-read: %w", err)
	}
	for _, c := range rr.index.Subscribers(roomID) {
		if c.Identity().ID == identity.ID {
			continue
		}
		rr.registry.sendOrKill(c, event)
	}
	return applied, nil
}
