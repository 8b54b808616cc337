package beacon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/putto11262002/beacon/core"
)

type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

type RoomJoinedPayload struct {
	RoomID string `json:"room_id"`
}

type RoomLeftPayload struct {
	RoomID string `json:"room_id"`
}

type MarkReadPayload struct {
	RoomID     string   `json:"room_id"`
	MessageIDs []string `json:"message_ids"`
}

type SetTypingPayload struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type SetStatusPayload struct {
	Status core.Status `json:"status"`
}

type ErrorPayload struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

// replyError reports a failed inbound event back to the connection it
// came from. Denials carry the sentinel text; anything else is opaque to
// the client.
func (app *App) replyError(c *core.Conn, eventType string, err error) {
	reason := "internal error"
	if core.Denial(err) {
		reason = err.Error()
	}
	event, merr := core.NewEvent(core.ErrorEvent, ErrorPayload{Event: eventType, Reason: reason})
	if merr != nil {
		return
	}
	app.registry.SendToConns(event, c)
}

func (app *App) JoinRoomHandler(ctx context.Context, e *core.Event) error {
	var payload JoinRoomPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("Unmarshal: %w", err)
	}
	sender := e.Sender()

	if err := app.roomIndex.Join(ctx, sender, payload.RoomID); err != nil {
		app.replyError(sender, e.Type, err)
		return fmt.Errorf("Join: %w", err)
	}

	ack, err := core.NewEvent(core.RoomJoinedEvent, RoomJoinedPayload{RoomID: payload.RoomID})
	if err != nil {
		return fmt.Errorf("marshal room-joined: %w", err)
	}
	app.registry.SendToConns(ack, sender)
	return nil
}

func (app *App) LeaveRoomHandler(ctx context.Context, e *core.Event) error {
	var payload JoinRoomPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("Unmarshal: %w", err)
	}
	sender := e.Sender()

	app.roomIndex.Leave(sender, payload.RoomID)

	ack, err := core.NewEvent(core.RoomLeftEvent, RoomLeftPayload{RoomID: payload.RoomID})
	if err != nil {
		return fmt.Errorf("marshal room-left: %w", err)
	}
	app.registry.SendToConns(ack, sender)
	return nil
}

func (app *App) SendMessageHandler(ctx context.Context, e *core.Event) error {
	var input core.MessageInput
	if err := json.Unmarshal(e.Payload, &input); err != nil {
		return fmt.Errorf("Unmarshal: %w", err)
	}
	sender := e.Sender()

	if _, err := app.messageRouter.Submit(ctx, sender, input); err != nil {
		app.replySendError(sender, input.RoomID, err)
		return fmt.Errorf("Submit: %w", err)
	}
	return nil
}

// replySendError tells the submitting connection its message was not
// accepted; the rest of the room never learns about the attempt.
func (app *App) replySendError(c *core.Conn, roomID string, err error) {
	reason := "internal error"
	if core.Denial(err) {
		reason = err.Error()
	}
	event, merr := core.NewEvent(core.MessageSendErrorEvent, core.MessageSendErrorPayload{
		RoomID: roomID,
		Reason: reason,
	})
	if merr != nil {
		return
	}
	app.registry.SendToConns(event, c)
}

func (app *App) MarkReadHandler(ctx context.Context, e *core.Event) error {
	var payload MarkReadPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("Unmarshal: %w", err)
	}
	sender := e.Sender()

	if _, err := app.readReceipts.MarkRead(ctx, sender, payload.RoomID, payload.MessageIDs); err != nil {
		app.replyError(sender, e.Type, err)
		return fmt.Errorf("MarkRead: %w", err)
	}
	return nil
}

func (app *App) SetTypingHandler(ctx context.Context, e *core.Event) error {
	var payload SetTypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("Unmarshal: %w", err)
	}
	sender := e.Sender()

	if err := app.typing.SetTyping(ctx, sender, payload.RoomID, payload.IsTyping); err != nil {
		app.replyError(sender, e.Type, err)
		return fmt.Errorf("SetTyping: %w", err)
	}
	return nil
}

func (app *App) SetStatusHandler(ctx context.Context, e *core.Event) error {
	var payload SetStatusPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("Unmarshal: %w", err)
	}
	sender := e.Sender()

	if err := app.presence.SetExplicit(ctx, sender.Identity(), payload.Status); err != nil {
		app.replyError(sender, e.Type, err)
		return fmt.Errorf("SetExplicit: %w", err)
	}
	return nil
}

func (app *App) CallSignalHandler(ctx context.Context, e *core.Event) error {
	var input core.CallSignalInput
	if err := json.Unmarshal(e.Payload, &input); err != nil {
		return fmt.Errorf("Unmarshal: %w", err)
	}
	sender := e.Sender()

	if err := app.callRelay.Relay(ctx, sender, e.Type, input); err != nil {
		app.replyError(sender, e.Type, err)
		return fmt.Errorf("Relay: %w", err)
	}
	return nil
}
