package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SQLiteChatStore struct {
	db        *sql.DB
	userStore UserStore
}

func NewSQLiteChatStore(db *sql.DB, userStore UserStore) *SQLiteChatStore {
	return &SQLiteChatStore{db: db, userStore: userStore}
}

func (s *SQLiteChatStore) CreateRoom(ctx context.Context, input RoomCreateInput) (*Room, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	members := dedupe(input.Members)
	for _, m := range members {
		user, err := s.userStore.GetUserByID(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("GetUserByID: %w", err)
		}
		if user == nil {
			return nil, ErrInvalidUser
		}
	}

	if input.Type == DirectRoom {
		existing, err := s.directRoomBetween(ctx, members[0], members[1])
		if err != nil {
			return nil, err
		}
		if existing != "" {
			return nil, ErrConflictedRoom
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	now := time.Now()

	query := `INSERT INTO rooms (id, type, name, created_at) VALUES (@id, @type, @name, @created_at)`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("id", id), sql.Named("type", string(input.Type)),
		sql.Named("name", input.Name), sql.Named("created_at", now))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert room): %w", err)
	}

	admins := make(map[string]struct{}, len(input.Admins))
	for _, a := range input.Admins {
		admins[a] = struct{}{}
	}

	room := &Room{ID: id, Type: input.Type, Name: input.Name, CreatedAt: now}
	for _, m := range members {
		role := RoleMember
		if _, ok := admins[m]; ok {
			role = RoleAdmin
		}
		query = `INSERT INTO room_members (room_id, user_id, role) VALUES (@room_id, @user_id, @role)`
		_, err = tx.ExecContext(ctx, query,
			sql.Named("room_id", id), sql.Named("user_id", m), sql.Named("role", string(role)))
		if err != nil {
			return nil, fmt.Errorf("ExecContext(insert room_members): %w", err)
		}
		room.Members = append(room.Members, RoomMember{UserID: m, Role: role})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}
	return room, nil
}

func (s *SQLiteChatStore) directRoomBetween(ctx context.Context, a, b string) (string, error) {
	query := `
		SELECT r.id FROM rooms AS r
		INNER JOIN room_members AS m1 ON m1.room_id = r.id AND m1.user_id = @a
		INNER JOIN room_members AS m2 ON m2.room_id = r.id AND m2.user_id = @b
		WHERE r.type = @type`
	row := s.db.QueryRowContext(ctx, query,
		sql.Named("a", a), sql.Named("b", b), sql.Named("type", string(DirectRoom)))
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("Scan: %w", err)
	}
	return id, nil
}

func (s *SQLiteChatStore) DeleteRoom(ctx context.Context, roomID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM pending_deliveries WHERE message_id IN (SELECT id FROM messages WHERE room_id = @room_id)`,
		`DELETE FROM message_reads WHERE message_id IN (SELECT id FROM messages WHERE room_id = @room_id)`,
		`DELETE FROM messages WHERE room_id = @room_id`,
		`DELETE FROM room_members WHERE room_id = @room_id`,
	} {
		if _, err := tx.ExecContext(ctx, query, sql.Named("room_id", roomID)); err != nil {
			return fmt.Errorf("ExecContext: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = @room_id`, sql.Named("room_id", roomID))
	if err != nil {
		return fmt.Errorf("ExecContext(delete room): %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RowsAffected: %w", err)
	}
	if n == 0 {
		return ErrInvalidRoom
	}
	return tx.Commit()
}

func (s *SQLiteChatStore) GetRoomByID(ctx context.Context, roomID string) (*Room, error) {
	query := `
		SELECT r.id, r.type, r.name, r.created_at,
		r.last_message_content, r.last_message_sender, r.last_message_type, r.last_message_at,
		m.user_id, m.role
		FROM rooms AS r
		INNER JOIN room_members AS m ON r.id = m.room_id
		WHERE r.id = @id`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var room Room
	for rows.Next() {
		var member RoomMember
		var lmContent, lmSender, lmType string
		var lmAt sql.NullTime
		if err := rows.Scan(&room.ID, (*string)(&room.Type), &room.Name, &room.CreatedAt,
			&lmContent, &lmSender, &lmType, &lmAt,
			&member.UserID, (*string)(&member.Role)); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		if lmAt.Valid && room.LastMessage == nil {
			room.LastMessage = &LastMessage{
				Content:   lmContent,
				Sender:    lmSender,
				Timestamp: lmAt.Time,
				Type:      MessageType(lmType),
			}
		}
		room.Members = append(room.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	if room.ID == "" {
		return nil, nil
	}
	return &room, nil
}

func (s *SQLiteChatStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	query := `SELECT count(*) FROM room_members WHERE room_id = @room_id AND user_id = @user_id`
	row := s.db.QueryRowContext(ctx, query,
		sql.Named("room_id", roomID), sql.Named("user_id", userID))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("Scan: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteChatStore) MembersOf(ctx context.Context, roomID string) ([]string, error) {
	query := `SELECT user_id FROM room_members WHERE room_id = @room_id`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (s *SQLiteChatStore) RoomsFor(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT room_id FROM room_members WHERE user_id = @user_id`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("user_id", userID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var roomIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		roomIDs = append(roomIDs, id)
	}
	return roomIDs, rows.Err()
}

func (s *SQLiteChatStore) RoomsWithSummaries(ctx context.Context, userID string) ([]Room, error) {
	query := `
		SELECT r.id, r.type, r.name, r.created_at,
		r.last_message_content, r.last_message_sender, r.last_message_type, r.last_message_at
		FROM rooms AS r
		INNER JOIN room_members AS m ON r.id = m.room_id
		WHERE m.user_id = @user_id
		ORDER BY r.last_message_at DESC, r.created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("user_id", userID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		var lmContent, lmSender, lmType string
		var lmAt sql.NullTime
		if err := rows.Scan(&room.ID, (*string)(&room.Type), &room.Name, &room.CreatedAt,
			&lmContent, &lmSender, &lmType, &lmAt); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		if lmAt.Valid {
			room.LastMessage = &LastMessage{
				Content:   lmContent,
				Sender:    lmSender,
				Timestamp: lmAt.Time,
				Type:      MessageType(lmType),
			}
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *SQLiteChatStore) PersistMessage(ctx context.Context, input MessageCreateInput) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	sentAt := input.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	var replyTo sql.NullString
	if input.ReplyTo != "" {
		replyTo = sql.NullString{String: input.ReplyTo, Valid: true}
	}

	query := `
		INSERT INTO messages (id, room_id, sender, content, type, file_url, file_name, file_size, duration, reply_to, sent_at)
		VALUES (@id, @room_id, @sender, @content, @type, @file_url, @file_name, @file_size, @duration, @reply_to, @sent_at)`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("id", id), sql.Named("room_id", input.RoomID),
		sql.Named("sender", input.Sender), sql.Named("content", input.Content),
		sql.Named("type", string(input.Type)), sql.Named("file_url", input.FileURL),
		sql.Named("file_name", input.FileName), sql.Named("file_size", input.FileSize),
		sql.Named("duration", input.Duration), sql.Named("reply_to", replyTo),
		sql.Named("sent_at", sentAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert message): %w", err)
	}

	// The sender implicitly reads their own message.
	query = `INSERT INTO message_reads (message_id, user_id, read_at) VALUES (@message_id, @user_id, @read_at)`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("message_id", id), sql.Named("user_id", input.Sender), sql.Named("read_at", sentAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert message_reads): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}

	msg := &Message{
		ID:         id,
		RoomID:     input.RoomID,
		Sender:     input.Sender,
		SenderName: input.SenderName,
		Content:    input.Content,
		Type:       input.Type,
		FileURL:    input.FileURL,
		FileName:   input.FileName,
		FileSize:   input.FileSize,
		Duration:   input.Duration,
		ReadBy:     []string{input.Sender},
		SentAt:     sentAt,
	}
	if input.ReplyTo != "" {
		target, err := s.GetMessage(ctx, input.RoomID, input.ReplyTo)
		if err != nil {
			return nil, err
		}
		if target != nil {
			msg.ReplyTo = &MessageRef{
				ID:      target.ID,
				Sender:  target.Sender,
				Content: target.Content,
				Type:    target.Type,
			}
		}
	}
	return msg, nil
}

func (s *SQLiteChatStore) GetMessage(ctx context.Context, roomID, messageID string) (*Message, error) {
	query := `
		SELECT id, room_id, sender, content, type, file_url, file_name, file_size, duration, sent_at
		FROM messages WHERE id = @id AND room_id = @room_id`
	row := s.db.QueryRowContext(ctx, query,
		sql.Named("id", messageID), sql.Named("room_id", roomID))

	var msg Message
	err := row.Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Content, (*string)(&msg.Type),
		&msg.FileURL, &msg.FileName, &msg.FileSize, &msg.Duration, &msg.SentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Scan: %w", err)
	}

	readBy, err := s.readBy(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	msg.ReadBy = readBy
	return &msg, nil
}

func (s *SQLiteChatStore) RoomMessages(ctx context.Context, roomID string, offset, limit int) ([]Message, error) {
	if limit == 0 {
		limit = 100
	}
	query := `
		SELECT id, room_id, sender, content, type, file_url, file_name, file_size, duration, sent_at
		FROM messages WHERE room_id = @room_id
		ORDER BY sent_at DESC, rowid DESC LIMIT @limit OFFSET @offset`
	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("room_id", roomID), sql.Named("limit", limit), sql.Named("offset", offset))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Content, (*string)(&msg.Type),
			&msg.FileURL, &msg.FileName, &msg.FileSize, &msg.Duration, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	for i := range messages {
		readBy, err := s.readBy(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].ReadBy = readBy
	}
	return messages, nil
}

func (s *SQLiteChatStore) UpdateRoomSummary(ctx context.Context, roomID string, summary LastMessage) error {
	query := `
		UPDATE rooms SET last_message_content = @content, last_message_sender = @sender,
		last_message_type = @type, last_message_at = @at
		WHERE id = @room_id`
	res, err := s.db.ExecContext(ctx, query,
		sql.Named("content", summary.Content), sql.Named("sender", summary.Sender),
		sql.Named("type", string(summary.Type)), sql.Named("at", summary.Timestamp),
		sql.Named("room_id", roomID))
	if err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RowsAffected: %w", err)
	}
	if n == 0 {
		return ErrInvalidRoom
	}
	return nil
}

// MarkMessagesRead filters non-room ids and already-read messages in a
// single insert-select per id: the select matches only messages in the
// room, and the conflict clause makes re-reads a no-op.
func (s *SQLiteChatStore) MarkMessagesRead(ctx context.Context, roomID, readerID string, messageIDs []string) ([]string, error) {
	now := time.Now()
	var applied []string
	for _, id := range messageIDs {
		query := `
			INSERT INTO message_reads (message_id, user_id, read_at)
			SELECT m.id, @user_id, @read_at FROM messages AS m
			WHERE m.id = @message_id AND m.room_id = @room_id
			ON CONFLICT DO NOTHING`
		res, err := s.db.ExecContext(ctx, query,
			sql.Named("user_id", readerID), sql.Named("read_at", now),
			sql.Named("message_id", id), sql.Named("room_id", roomID))
		if err != nil {
			return applied, fmt.Errorf("ExecContext: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return applied, fmt.Errorf("RowsAffected: %w", err)
		}
		if n > 0 {
			applied = append(applied, id)
		}
	}
	return applied, nil
}

func (s *SQLiteChatStore) MarkUndelivered(ctx context.Context, messageID string, userIDs []string) error {
	now := time.Now()
	for _, userID := range userIDs {
		query := `
			INSERT INTO pending_deliveries (message_id, user_id, created_at)
			VALUES (@message_id, @user_id, @created_at) ON CONFLICT DO NOTHING`
		_, err := s.db.ExecContext(ctx, query,
			sql.Named("message_id", messageID), sql.Named("user_id", userID),
			sql.Named("created_at", now))
		if err != nil {
			return fmt.Errorf("ExecContext: %w", err)
		}
	}
	return nil
}

func (s *SQLiteChatStore) PendingFor(ctx context.Context, userID string) ([]Message, error) {
	query := `
		SELECT m.id, m.room_id, m.sender, m.content, m.type, m.file_url, m.file_name, m.file_size, m.duration, m.sent_at
		FROM messages AS m
		INNER JOIN pending_deliveries AS p ON p.message_id = m.id
		WHERE p.user_id = @user_id
		ORDER BY p.created_at ASC, m.rowid ASC`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("user_id", userID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Content, (*string)(&msg.Type),
			&msg.FileURL, &msg.FileName, &msg.FileSize, &msg.Duration, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteChatStore) ClearPending(ctx context.Context, userID string, messageIDs []string) error {
	for _, id := range messageIDs {
		query := `DELETE FROM pending_deliveries WHERE user_id = @user_id AND message_id = @message_id`
		_, err := s.db.ExecContext(ctx, query,
			sql.Named("user_id", userID), sql.Named("message_id", id))
		if err != nil {
			return fmt.Errorf("ExecContext: %w", err)
		}
	}
	return nil
}

func (s *SQLiteChatStore) readBy(ctx context.Context, messageID string) ([]string, error) {
	query := `SELECT user_id FROM message_reads WHERE message_id = @message_id`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("message_id", messageID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var readers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		readers = append(readers, id)
	}
	return readers, rows.Err()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
