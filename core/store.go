package core

import (
	"context"
	"time"
)

type RoomType string

const (
	// DirectRoom is a conversation between exactly two users. It has no
	// name and only one direct room can exist between two users.
	DirectRoom RoomType = "direct"
	// GroupRoom is a conversation between one or more users with a
	// required name and an optional admin subset.
	GroupRoom RoomType = "group"
)

type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

type RoomMember struct {
	UserID string     `json:"user_id"`
	Role   MemberRole `json:"role"`
}

// LastMessage is the denormalized summary a room keeps of its most
// recent message, used by room-listing collaborators.
type LastMessage struct {
	Content   string      `json:"content"`
	Sender    string      `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
}

type Room struct {
	ID          string       `json:"id"`
	Type        RoomType     `json:"type"`
	Name        string       `json:"name,omitempty"`
	Members     []RoomMember `json:"members"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type RoomCreateInput struct {
	Type    RoomType `json:"type" validate:"required"`
	Name    string   `json:"name"`
	Members []string `json:"members" validate:"required,min=1"`
	Admins  []string `json:"admins"`
}

// Validate enforces the room shape rules: a direct room has exactly two
// members and no name, a group room has a name.
func (in *RoomCreateInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	switch in.Type {
	case DirectRoom:
		if len(in.Members) != 2 || in.Name != "" {
			return ErrInvalidRoom
		}
	case GroupRoom:
		if in.Name == "" {
			return ErrInvalidRoom
		}
	default:
		return ErrInvalidRoom
	}
	return nil
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Status       Status    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatStore is the system of record for rooms, membership and
// messages. In-memory indexes are caches over it.
type ChatStore interface {
	// CreateRoom creates a room with the given members. It returns
	// ErrInvalidUser if a member does not exist and ErrConflictedRoom
	// if a direct room between the two members already exists.
	CreateRoom(ctx context.Context, input RoomCreateInput) (*Room, error)

	// DeleteRoom removes a room, its messages and its membership.
	// Returns ErrInvalidRoom if the room does not exist.
	DeleteRoom(ctx context.Context, roomID string) error

	// GetRoomByID returns the room or nil if not found.
	GetRoomByID(ctx context.Context, roomID string) (*Room, error)

	// IsMember reports whether the user is a persisted member of the
	// room.
	IsMember(ctx context.Context, roomID, userID string) (bool, error)

	// MembersOf returns the user ids of the room's members, or nil if
	// the room does not exist.
	MembersOf(ctx context.Context, roomID string) ([]string, error)

	// RoomsFor returns the ids of every room the user is a member of.
	RoomsFor(ctx context.Context, userID string) ([]string, error)

	// RoomsWithSummaries returns the user's rooms with their
	// last-message summaries, most recently active first.
	RoomsWithSummaries(ctx context.Context, userID string) ([]Room, error)

	// PersistMessage stores a message with readBy seeded to the sender.
	PersistMessage(ctx context.Context, input MessageCreateInput) (*Message, error)

	// GetMessage returns the message, or nil if it does not exist or
	// does not belong to the room.
	GetMessage(ctx context.Context, roomID, messageID string) (*Message, error)

	// RoomMessages returns messages in the room, newest first.
	// A zero limit defaults to 100.
	RoomMessages(ctx context.Context, roomID string, offset, limit int) ([]Message, error)

	// UpdateRoomSummary replaces the room's last-message summary.
	UpdateRoomSummary(ctx context.Context, roomID string, summary LastMessage) error

	// MarkMessagesRead adds the reader to the readBy set of each listed
	// message. The union is idempotent and ids outside the room are
	// filtered, not errors. It returns the ids whose readBy set
	// actually grew.
	MarkMessagesRead(ctx context.Context, roomID, readerID string, messageIDs []string) ([]string, error)

	// MarkUndelivered records that a message has not been delivered
	// live to the given users.
	MarkUndelivered(ctx context.Context, messageID string, userIDs []string) error

	// PendingFor returns messages recorded as undelivered for the user,
	// oldest first.
	PendingFor(ctx context.Context, userID string) ([]Message, error)

	// ClearPending removes pending-delivery marks for the user.
	ClearPending(ctx context.Context, userID string, messageIDs []string) error
}

// UserStore resolves and manages user accounts.
type UserStore interface {
	// CreateUser stores a user with a hashed password. Returns
	// ErrInvalidUser if the username is taken.
	CreateUser(ctx context.Context, username, password string) (*User, error)

	// GetUserByID returns the user or nil if not found.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername returns the user or nil if not found.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// VerifyPassword returns the user when the credentials match,
	// ErrBadCredentials otherwise.
	VerifyPassword(ctx context.Context, username, password string) (*User, error)
}

// PresenceStore persists presence transitions.
type PresenceStore interface {
	PersistPresence(ctx context.Context, identityID string, status Status, lastSeen time.Time) error
}
