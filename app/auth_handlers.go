package beacon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/putto11262002/beacon/core"
	"github.com/putto11262002/beacon/pkg/router"
)

type AuthHandler struct {
	users    core.UserStore
	secret   []byte
	tokenTTL time.Duration
}

func NewAuthHandler(users core.UserStore, secret []byte, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{users: users, secret: secret, tokenTTL: tokenTTL}
}

type CredentialsPayload struct {
	Username string `json:"username" validate:"required,min=3"`
	Password string `json:"password" validate:"required,min=8"`
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      core.User `json:"user"`
}

func (h *AuthHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) error {
	var payload CredentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	defer r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid input")
	}

	user, err := h.users.CreateUser(r.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, core.ErrInvalidUser) {
			return router.NewJsonError(http.StatusConflict, "username taken")
		}
		return err
	}

	return h.writeSession(w, user)
}

func (h *AuthHandler) SigninHandler(w http.ResponseWriter, r *http.Request) error {
	var payload CredentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	defer r.Body.Close()

	user, err := h.users.VerifyPassword(r.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, core.ErrBadCredentials) {
			return router.NewJsonError(http.StatusUnauthorized, err.Error())
		}
		return err
	}

	return h.writeSession(w, user)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, user *core.User) error {
	identity := core.Identity{ID: user.ID, Username: user.Username}
	token, expiresAt, err := core.NewToken(identity, h.tokenTTL, h.secret)
	if err != nil {
		return fmt.Errorf("NewToken: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    token,
		Expires:  expiresAt,
		HttpOnly: true,
		Path:     "/",
	})

	session := Session{Token: token, ExpiresAt: expiresAt, User: *user}
	if err := json.NewEncoder(w).Encode(session); err != nil {
		return fmt.Errorf("Encode: %w", err)
	}
	return nil
}

func (h *AuthHandler) SignoutHandler(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Path:     "/",
	})
	w.WriteHeader(http.StatusOK)
	return nil
}
