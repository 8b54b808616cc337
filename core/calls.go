package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Client to server call-signaling event types.
const (
	CallRequestEvent = "call-request"
	CallAnswerEvent  = "call-answer"
	CallSignalEvent  = "call-signal"
	CallRejectEvent  = "call-reject"
	CallEndEvent     = "call-end"
)

// Server to client call-signaling event types.
const (
	CallIncomingEvent = "call-incoming"
	CallAnsweredEvent = "call-answered"
	CallSignaledEvent = "call-signaled"
	CallRejectedEvent = "call-rejected"
	CallEndedEvent    = "call-ended"
)

type CallSignalInput struct {
	TargetUserID string          `json:"target_user_id"`
	Data         json.RawMessage `json:"data"`
}

type CallSignalPayload struct {
	From         string          `json:"from"`
	FromUsername string          `json:"from_username"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// CallRelay forwards opaque call-signaling blobs between identities.
// It never inspects, validates or persists the payload, and it models
// no call state: timeouts and unanswered calls are the clients'
// concern.
type CallRelay struct {
	users    UserStore
	registry *Registry
	logger   *slog.Logger
}

func NewCallRelay(users UserStore, registry *Registry, logger *slog.Logger) *CallRelay {
	return &CallRelay{users: users, registry: registry, logger: logger}
}

// outEventFor maps an inbound signaling event type to the event type
// delivered to the target.
func outEventFor(inType string) (string, bool) {
	switch inType {
	case CallRequestEvent:
		return CallIncomingEvent, true
	case CallAnswerEvent:
		return CallAnsweredEvent, true
	case CallSignalEvent:
		return CallSignaledEvent, true
	case CallRejectEvent:
		return CallRejectedEvent, true
	case CallEndEvent:
		return CallEndedEvent, true
	}
	return "", false
}

// Relay forwards a signaling blob from an authenticated connection to
// the target identity. Delivery goes to all of the target's live
// connections; which device acts on it is negotiated by the clients. A
// target with no live connection is a silent drop, ended by the
// caller's own timeout.
func (cr *CallRelay) Relay(ctx context.Context, from *Conn, inType string, input CallSignalInput) error {
	outType, ok := outEventFor(inType)
	if !ok {
		return fmt.Errorf("%w: unknown signal %q", ErrInvalidMessage, inType)
	}
	if input.TargetUserID == "" {
		return fmt.Errorf("%w: missing target", ErrInvalidMessage)
	}

	target, err := cr.users.GetUserByID(ctx, input.TargetUserID)
	if err != nil {
		return fmt.Errorf("GetUserByID: %w", err)
	}
	if target == nil {
		return ErrUnknownIdentity
	}

	identity := from.Identity()
	event, err := NewEvent(outType, CallSignalPayload{
		From:         identity.ID,
		FromUsername: identity.Username,
		Data:         input.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", outType, err)
	}
	cr.registry.SendToIdentities(event, target.ID)
	return nil
}
