package core

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/pressly/goose/v3"
)

type BaseFixture struct {
	ctx      context.Context
	db       *sql.DB
	t        *testing.T
	tearDown func()
}

func NewBaseFixture(t *testing.T) *BaseFixture {
	ctx, cancel := context.WithCancel(context.Background())

	// A distinct shared in-memory database per test keeps parallel tests
	// from seeing each other's rows.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatal(err)
	}

	migrationfs := os.DirFS("../migrations")
	goose.SetBaseFS(migrationfs)

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}

	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	return &BaseFixture{
		ctx: ctx,
		db:  db,
		t:   t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}

type ChatFixture struct {
	*BaseFixture
	userStore *SQLiteUserStore
	chatStore *SQLiteChatStore
	logger    *slog.Logger
}

func NewChatFixture(t *testing.T) *ChatFixture {
	base := NewBaseFixture(t)
	userStore := NewSQLiteUserStore(base.db)
	return &ChatFixture{
		BaseFixture: base,
		userStore:   userStore,
		chatStore:   NewSQLiteChatStore(base.db, userStore),
		logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
}
