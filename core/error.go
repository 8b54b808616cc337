package core

import "errors"

// Authentication errors. A connection that fails authentication is
// refused before any state is created for it.
var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrUnknownIdentity = errors.New("unknown identity")
)

// Authorization and lookup errors. These are denials, never crashes:
// the acting connection gets a specific error, other connections see
// nothing.
var (
	// ErrNotRoomMember is returned when a user acts on a room they are
	// not a persisted member of.
	ErrNotRoomMember = errors.New("not a room member")
	// ErrInvalidRoom is returned when a room is not found.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrInvalidUser is returned when a user is not found or is invalid.
	ErrInvalidUser = errors.New("invalid user")
	// ErrConflictedRoom is returned when a direct room already exists
	// between two users.
	ErrConflictedRoom = errors.New("room already exists")
)

// Validation errors.
var (
	// ErrInvalidMessage is returned when a message payload is malformed.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidMessageType is returned when the type tag of a message
	// is not supported.
	ErrInvalidMessageType = errors.New("invalid message type")
	// ErrInvalidMessageRef is returned when a reply references a message
	// outside the room.
	ErrInvalidMessageRef = errors.New("invalid message reference")
	// ErrInvalidStatus is returned for an unsupported explicit presence
	// status.
	ErrInvalidStatus = errors.New("invalid status")
)

// Denial reports whether err is a client-caused condition that should
// be surfaced as a denial rather than a transient failure.
func Denial(err error) bool {
	for _, target := range []error{
		ErrBadCredentials, ErrTokenExpired, ErrTokenInvalid, ErrUnknownIdentity,
		ErrNotRoomMember, ErrInvalidRoom, ErrInvalidUser, ErrConflictedRoom,
		ErrInvalidMessage, ErrInvalidMessageType, ErrInvalidMessageRef, ErrInvalidStatus,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
