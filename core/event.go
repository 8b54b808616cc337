package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Client to server event types.
const (
	JoinRoomEvent    = "join-room"
	LeaveRoomEvent   = "leave-room"
	SendMessageEvent = "send-message"
	MarkReadEvent    = "mark-read"
	SetTypingEvent   = "set-typing"
	SetStatusEvent   = "set-status"
)

// Server to client event types.
const (
	RoomJoinedEvent       = "room-joined"
	RoomLeftEvent         = "room-left"
	NewMessageEvent       = "new-message"
	MessageAckEvent       = "message-ack"
	MessagesReadEvent     = "messages-read"
	UserTypingEvent       = "user-typing"
	PresenceChangedEvent  = "presence-changed"
	RoomDeletedEvent      = "room-deleted"
	MessageSendErrorEvent = "message-send-error"
	ErrorEvent            = "error"
)

// Event is the unit of the wire protocol: a type tag and an opaque JSON
// payload. Inbound events carry the connection they arrived on.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`

	sender *Conn
}

func NewEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Type: t, Payload: b}, nil
}

// Sender returns the connection an inbound event arrived on.
// It is nil for events constructed by the server.
func (e *Event) Sender() *Conn {
	return e.sender
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Payload.Size: %d}", e.Type, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

type EventHandler func(context.Context, *Event) error

// EventRouter dispatches inbound events to registered handlers.
// Handlers run sequentially on a single dispatch goroutine: within a
// room, fan-out order matches submission order because no two inbound
// events are ever processed concurrently. Slow clients never stall the
// loop; per-connection delivery is non-blocking.
type EventRouter struct {
	handlers map[string]EventHandler
	source   <-chan *Event
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewEventRouter(logger *slog.Logger, source <-chan *Event) *EventRouter {
	return &EventRouter{
		handlers: make(map[string]EventHandler),
		source:   source,
		logger:   logger,
	}
}

// On registers a handler for an event type. Registering the same type
// twice is a programming error.
func (r *EventRouter) On(eventType string, h EventHandler) {
	if _, ok := r.handlers[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already exists", eventType))
	}
	r.handlers[eventType] = h
}

// Listen starts the dispatch goroutine. It returns immediately; use
// Wait to block until the loop exits.
func (r *EventRouter) Listen(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-r.source:
				if !ok {
					return
				}
				r.dispatch(ctx, e)
			}
		}
	}()
}

func (r *EventRouter) Wait() {
	r.wg.Wait()
}

func (r *EventRouter) dispatch(ctx context.Context, e *Event) {
	h, ok := r.handlers[e.Type]
	if !ok {
		r.logger.Error(fmt.Sprintf("handler for %s not found", e.Type))
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(fmt.Sprintf("handler(%s) panicked: %v", e.Type, rec))
		}
	}()
	if err := h(ctx, e); err != nil {
		if Denial(err) {
			r.logger.Debug(fmt.Sprintf("handler(%s) denied: %v", e.Type, err))
		} else {
			r.logger.Error(fmt.Sprintf("handler(%s): %v", e.Type, err))
		}
	}
}
