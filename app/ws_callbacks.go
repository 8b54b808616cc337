package beacon

import (
	"context"
	"fmt"

	"github.com/putto11262002/beacon/core"
)

func (app *App) onIdentityOnline(ctx context.Context, identity core.Identity) {
	app.presence.SetOnline(ctx, identity)
}

func (app *App) onIdentityOffline(ctx context.Context, identity core.Identity) {
	app.presence.SetOffline(ctx, identity)
}

// onConnect drains the connection's pending deliveries: messages sent to
// rooms of the identity while it had no live connection are replayed as
// normal new-message events, oldest first, then cleared.
func (app *App) onConnect(ctx context.Context, c *core.Conn) {
	identity := c.Identity()
	pending, err := app.chatStore.PendingFor(ctx, identity.ID)
	if err != nil {
		app.logger.Error(fmt.Sprintf("PendingFor(%s): %v", identity.Username, err))
		return
	}
	if len(pending) == 0 {
		return
	}

	delivered := make([]string, 0, len(pending))
	for i := range pending {
		msg := &pending[i]
		event, err := core.NewEvent(core.NewMessageEvent, core.NewMessagePayload{
			Message: msg,
			RoomID:  msg.RoomID,
			RoomSummary: core.LastMessage{
				Content:   msg.Content,
				Sender:    msg.Sender,
				Timestamp: msg.SentAt,
				Type:      msg.Type,
			},
		})
		if err != nil {
			app.logger.Error(fmt.Sprintf("marshal pending new-message: %v", err))
			continue
		}
		app.registry.SendToConns(event, c)
		delivered = append(delivered, msg.ID)
	}

	if err := app.chatStore.ClearPending(ctx, identity.ID, delivered); err != nil {
		app.logger.Error(fmt.Sprintf("ClearPending(%s): %v", identity.Username, err))
	}
}

// onPresenceChange broadcasts every presence transition to all live
// connections.
func (app *App) onPresenceChange(ctx context.Context, identity core.Identity, rec core.PresenceRecord) {
	event, err := core.NewEvent(core.PresenceChangedEvent, core.PresenceChangedPayload{
		UserID:   identity.ID,
		Username: identity.Username,
		Status:   rec.Status,
		LastSeen: rec.LastSeen,
	})
	if err != nil {
		app.logger.Error(fmt.Sprintf("marshal presence-changed: %v", err))
		return
	}
	app.registry.Broadcast(event)
}
