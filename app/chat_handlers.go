package beacon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/putto11262002/beacon/core"
	"github.com/putto11262002/beacon/pkg/router"
)

type ChatHandler struct {
	chatStore core.ChatStore
	index     *core.RoomIndex
	registry  *core.Registry
}

func NewChatHandler(chatStore core.ChatStore, index *core.RoomIndex, registry *core.Registry) *ChatHandler {
	return &ChatHandler{chatStore: chatStore, index: index, registry: registry}
}

type RoomDeletedPayload struct {
	RoomID string `json:"room_id"`
}

func (h *ChatHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)
	var input core.RoomCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	defer r.Body.Close()

	// The creator is always a member, and administers group rooms.
	if !contains(input.Members, identity.ID) {
		input.Members = append(input.Members, identity.ID)
	}
	if input.Type == core.GroupRoom && !contains(input.Admins, identity.ID) {
		input.Admins = append(input.Admins, identity.ID)
	}

	room, err := h.chatStore.CreateRoom(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrConflictedRoom):
			return router.NewJsonError(http.StatusConflict, err.Error())
		case errors.Is(err, core.ErrInvalidRoom), errors.Is(err, core.ErrInvalidUser):
			return router.NewJsonError(http.StatusBadRequest, err.Error())
		default:
			return err
		}
	}

	// Live members see the new room without reconnecting.
	for _, m := range room.Members {
		for _, c := range h.registry.ConnectionsOf(m.UserID) {
			if err := h.index.Join(r.Context(), c, room.ID); err != nil {
				return fmt.Errorf("Join: %w", err)
			}
		}
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(room)
	return nil
}

func (h *ChatHandler) GetMyRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)

	rooms, err := h.chatStore.RoomsWithSummaries(r.Context(), identity.ID)
	if err != nil {
		return err
	}
	if rooms == nil {
		rooms = []core.Room{}
	}

	if err := json.NewEncoder(w).Encode(rooms); err != nil {
		return err
	}
	return nil
}

func (h *ChatHandler) GetRoomByIDHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)
	id := r.PathValue("roomID")

	inRoom, err := h.chatStore.IsMember(r.Context(), id, identity.ID)
	if err != nil {
		return err
	}
	if !inRoom {
		return router.NewJsonError(http.StatusForbidden, core.ErrNotRoomMember.Error())
	}

	room, err := h.chatStore.GetRoomByID(r.Context(), id)
	if err != nil {
		return err
	}
	if room == nil {
		return router.NewJsonError(http.StatusNotFound, "room not found")
	}

	json.NewEncoder(w).Encode(room)
	return nil
}

func (h *ChatHandler) GetRoomMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)
	roomID := r.PathValue("roomID")

	inRoom, err := h.chatStore.IsMember(r.Context(), roomID, identity.ID)
	if err != nil {
		return err
	}
	if !inRoom {
		return router.NewJsonError(http.StatusForbidden, core.ErrNotRoomMember.Error())
	}

	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	messages, err := h.chatStore.RoomMessages(r.Context(), roomID, offset, limit)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []core.Message{}
	}

	json.NewEncoder(w).Encode(messages)
	return nil
}

// DeleteRoomHandler removes the room and evicts its live subscribers,
// who are told why their subscription vanished. Group rooms require the
// admin role; either member can delete a direct room.
func (h *ChatHandler) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)
	roomID := r.PathValue("roomID")

	room, err := h.chatStore.GetRoomByID(r.Context(), roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return router.NewJsonError(http.StatusNotFound, "room not found")
	}

	allowed := false
	for _, m := range room.Members {
		if m.UserID != identity.ID {
			continue
		}
		allowed = room.Type == core.DirectRoom || m.Role == core.RoleAdmin
	}
	if !allowed {
		return router.NewJsonError(http.StatusForbidden, "not allowed")
	}

	if err := h.chatStore.DeleteRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, core.ErrInvalidRoom) {
			return router.NewJsonError(http.StatusNotFound, err.Error())
		}
		return err
	}

	evicted := h.index.Evict(roomID)
	event, err := core.NewEvent(core.RoomDeletedEvent, RoomDeletedPayload{RoomID: roomID})
	if err != nil {
		return fmt.Errorf("marshal room-deleted: %w", err)
	}
	h.registry.SendToConns(event, evicted...)

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
