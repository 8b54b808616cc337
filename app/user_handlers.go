package beacon

import (
	"encoding/json"
	"net/http"

	"github.com/putto11262002/beacon/core"
	"github.com/putto11262002/beacon/pkg/router"
)

type UserHandler struct {
	users    core.UserStore
	presence *core.PresenceTracker
}

func NewUserHandler(users core.UserStore, presence *core.PresenceTracker) *UserHandler {
	return &UserHandler{users: users, presence: presence}
}

func (h *UserHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	identity := IdentityFromRequest(r)
	user, err := h.users.GetUserByID(r.Context(), identity.ID)
	if err != nil {
		return err
	}
	if user == nil {
		return router.NewJsonError(http.StatusNotFound, "user not found")
	}
	json.NewEncoder(w).Encode(user)
	return nil
}

func (h *UserHandler) GetUserByUsernameHandler(w http.ResponseWriter, r *http.Request) error {
	user, err := h.users.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		return err
	}
	if user == nil {
		return router.NewJsonError(http.StatusNotFound, "user not found")
	}

	// The live tracker wins over the stale persisted status.
	rec := h.presence.StatusOf(user.ID)
	user.Status = rec.Status
	if !rec.LastSeen.IsZero() {
		user.LastSeen = rec.LastSeen
	}

	json.NewEncoder(w).Encode(user)
	return nil
}
