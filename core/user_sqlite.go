package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SQLiteUserStore implements UserStore and PresenceStore on the users
// table.
type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{db: db}
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, username, password string) (*User, error) {
	existing, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrInvalidUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("GenerateFromPassword: %w", err)
	}

	user := &User{
		ID:        uuid.New().String(),
		Username:  username,
		Status:    StatusOffline,
		CreatedAt: time.Now(),
	}
	query := `
		INSERT INTO users (id, username, password_hash, status, created_at)
		VALUES (@id, @username, @password_hash, @status, @created_at)`
	_, err = s.db.ExecContext(ctx, query,
		sql.Named("id", user.ID), sql.Named("username", user.Username),
		sql.Named("password_hash", string(hash)), sql.Named("status", string(user.Status)),
		sql.Named("created_at", user.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext: %w", err)
	}
	return user, nil
}

func (s *SQLiteUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, username, password_hash, status, last_seen, created_at
		FROM users WHERE id = @id`
	return s.scanUser(s.db.QueryRowContext(ctx, query, sql.Named("id", id)))
}

func (s *SQLiteUserStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, password_hash, status, last_seen, created_at
		FROM users WHERE username = @username`
	return s.scanUser(s.db.QueryRowContext(ctx, query, sql.Named("username", username)))
}

func (s *SQLiteUserStore) VerifyPassword(ctx context.Context, username, password string) (*User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return user, nil
}

func (s *SQLiteUserStore) PersistPresence(ctx context.Context, identityID string, status Status, lastSeen time.Time) error {
	query := `UPDATE users SET status = @status, last_seen = @last_seen WHERE id = @id`
	res, err := s.db.ExecContext(ctx, query,
		sql.Named("status", string(status)), sql.Named("last_seen", lastSeen),
		sql.Named("id", identityID))
	if err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RowsAffected: %w", err)
	}
	if n == 0 {
		return ErrInvalidUser
	}
	return nil
}

func (s *SQLiteUserStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var lastSeen sql.NullTime
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash,
		(*string)(&user.Status), &lastSeen, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Scan: %w", err)
	}
	if lastSeen.Valid {
		user.LastSeen = lastSeen.Time
	}
	return &user, nil
}
