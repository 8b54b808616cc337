package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MessageType determines how the message content should be
// interpreted.
type MessageType string

const (
	TextMessage  MessageType = "text"
	FileMessage  MessageType = "file"
	VoiceMessage MessageType = "voice"
	ImageMessage MessageType = "image"
)

func (t MessageType) Valid() bool {
	switch t {
	case TextMessage, FileMessage, VoiceMessage, ImageMessage:
		return true
	}
	return false
}

// summaryPreviewLen bounds the content preview carried by room
// summaries and offline notifications.
const summaryPreviewLen = 50

// MessageRef is the resolved reply target embedded in a fanned-out
// message.
type MessageRef struct {
	ID      string      `json:"id"`
	Sender  string      `json:"sender"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}

// Message belongs to exactly one room and is immutable after creation
// except for readBy growth, which is append-only and idempotent.
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"room_id"`
	Sender     string      `json:"sender"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	FileURL    string      `json:"file_url,omitempty"`
	FileName   string      `json:"file_name,omitempty"`
	FileSize   int64       `json:"file_size,omitempty"`
	Duration   int         `json:"duration,omitempty"`
	ReplyTo    *MessageRef `json:"reply_to,omitempty"`
	ReadBy     []string    `json:"read_by"`
	SentAt     time.Time   `json:"sent_at"`
}

// MessageInput is the client-supplied shape of a send-message request.
type MessageInput struct {
	RoomID   string      `json:"room_id" validate:"required"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type" validate:"required"`
	FileURL  string      `json:"file_url,omitempty"`
	FileName string      `json:"file_name,omitempty"`
	FileSize int64       `json:"file_size,omitempty"`
	Duration int         `json:"duration,omitempty"`
	ReplyTo  string      `json:"reply_to,omitempty"`
}

// Validate applies the type-specific payload rules: text messages need
// content, file-backed messages need a file reference.
func (in *MessageInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !in.Type.Valid() {
		return ErrInvalidMessageType
	}
	switch in.Type {
	case TextMessage:
		if in.Content == "" {
			return fmt.Errorf("%w: empty content", ErrInvalidMessage)
		}
	case FileMessage, VoiceMessage, ImageMessage:
		if in.FileURL == "" {
			return fmt.Errorf("%w: missing file reference", ErrInvalidMessage)
		}
	}
	return nil
}

// MessageCreateInput is what the router hands to the store. ReadBy is
// seeded with the sender by the store.
type MessageCreateInput struct {
	RoomID     string
	Sender     string
	SenderName string
	Content    string
	Type       MessageType
	FileURL    string
	FileName   string
	FileSize   int64
	Duration   int
	ReplyTo    string
	SentAt     time.Time
}

type NewMessagePayload struct {
	Message     *Message    `json:"message"`
	RoomID      string      `json:"room_id"`
	RoomSummary LastMessage `json:"room_summary"`
}

type MessageSendErrorPayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// MessageRouter validates, persists and fans out messages. Submits for
// the same room are serialized by a per-room mutex so every live
// subscriber observes messages in submission order; rooms do not
// contend with each other.
type MessageRouter struct {
	store    ChatStore
	index    *RoomIndex
	registry *Registry
	logger   *slog.Logger

	roomLocks *SyncMap[string, *sync.Mutex]
}

func NewMessageRouter(store ChatStore, index *RoomIndex, registry *Registry, logger *slog.Logger) *MessageRouter {
	return &MessageRouter{
		store:     store,
		index:     index,
		registry:  registry,
		logger:    logger,
		roomLocks: NewSyncMap[string, *sync.Mutex](),
	}
}

// Submit runs the full pipeline for one message: validate, check
// membership, persist with readBy={sender}, update the room summary,
// fan out to live subscribers and mark pending deliveries for offline
// members.
//
// Fan-out rule: every live subscriber connection receives new-message
// except the submitting connection itself, which receives message-ack
// with the stored message. The sender's other devices get the normal
// echo.
func (mr *MessageRouter) Submit(ctx context.Context, sender *Conn, input MessageInput) (*Message, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	identity := sender.Identity()
	ok, err := mr.store.IsMember(ctx, input.RoomID, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("IsMember: %w", err)
	}
	if !ok {
		return nil, ErrNotRoomMember
	}

	lock := mr.roomLocks.LoadOrStore(input.RoomID, func() *sync.Mutex { return &sync.Mutex{} })
	lock.Lock()
	defer lock.Unlock()

	if input.ReplyTo != "" {
		target, err := mr.store.GetMessage(ctx, input.RoomID, input.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("GetMessage(reply): %w", err)
		}
		if target == nil {
			return nil, ErrInvalidMessageRef
		}
	}

	msg, err := mr.store.PersistMessage(ctx, MessageCreateInput{
		RoomID:     input.RoomID,
		Sender:     identity.ID,
		SenderName: identity.Username,
		Content:    input.Content,
		Type:       input.Type,
		FileURL:    input.FileURL,
		FileName:   input.FileName,
		FileSize:   input.FileSize,
		Duration:   input.Duration,
		ReplyTo:    input.ReplyTo,
		SentAt:     time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("PersistMessage: %w", err)
	}

	summary := LastMessage{
		Content:   preview(msg),
		Sender:    identity.ID,
		Timestamp: msg.SentAt,
		Type:      msg.Type,
	}
	if err := mr.store.UpdateRoomSummary(ctx, input.RoomID, summary); err != nil {
		// The message is already persisted; the summary catches up on
		// the next submit.
		mr.logger.Error(fmt.Sprintf("UpdateRoomSummary(%s): %v", input.RoomID, err))
	}

	mr.fanOut(sender, msg, summary)
	mr.markOffline(ctx, msg)

	return msg, nil
}

func (mr *MessageRouter) fanOut(sender *Conn, msg *Message, summary LastMessage) {
	payload := NewMessagePayload{Message: msg, RoomID: msg.RoomID, RoomSummary: summary}
	event, err := NewEvent(NewMessageEvent, payload)
	if err != nil {
		mr.logger.Error(fmt.Sprintf("marshal new-message: %v", err))
		return
	}
	for _, c := range mr.index.Subscribers(msg.RoomID) {
		if c == sender {
			continue
		}
		mr.registry.sendOrKill(c, event)
	}

	ack, err := NewEvent(MessageAckEvent, payload)
	if err != nil {
		return
	}
	mr.registry.sendOrKill(sender, ack)
}

// markOffline records a pending delivery for every room member with no
// live connection so the message is re-delivered at their next connect.
func (mr *MessageRouter) markOffline(ctx context.Context, msg *Message) {
	members, err := mr.store.MembersOf(ctx, msg.RoomID)
	if err != nil {
		mr.logger.Error(fmt.Sprintf("MembersOf(%s): %v", msg.RoomID, err))
		return
	}
	var offline []string
	for _, m := range members {
		if !mr.registry.IsOnline(m) {
			offline = append(offline, m)
		}
	}
	if len(offline) == 0 {
		return
	}
	if err := mr.store.MarkUndelivered(ctx, msg.ID, offline); err != nil {
		mr.logger.Error(fmt.Sprintf("MarkUndelivered(%s): %v", msg.ID, err))
	}
}

func preview(msg *Message) string {
	content := msg.Content
	if content == "" {
		content = msg.FileName
	}
	if len(content) > summaryPreviewLen {
		return content[:summaryPreviewLen]
	}
	return content
}
