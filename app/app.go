package beacon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/putto11262002/beacon/core"
	"github.com/putto11262002/beacon/pkg/router"
)

type App struct {
	config  *Config
	db      *core.SQLiteDB
	context context.Context
	server  *http.Server
	logger  *slog.Logger
	router  *router.Router

	userStore core.UserStore
	chatStore core.ChatStore

	registry      *core.Registry
	roomIndex     *core.RoomIndex
	eventRouter   *core.EventRouter
	presence      *core.PresenceTracker
	messageRouter *core.MessageRouter
	readReceipts  *core.ReadReceipts
	typing        *core.TypingCoordinator
	callRelay     *core.CallRelay

	authHandler *AuthHandler
	userHandler *UserHandler
	chatHandler *ChatHandler

	exit         chan int
	cleanupFuncs []func(context.Context)
}

func New(ctx context.Context, config *Config) *App {
	var err error
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
	}
	app.db, err = core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	userStore := core.NewSQLiteUserStore(app.db.DB)
	app.userStore = userStore
	app.chatStore = core.NewSQLiteChatStore(app.db.DB, app.userStore)

	presenceOpts := []core.PresenceOption{core.WithPresenceLogger(app.logger)}
	if app.config.Redis.Addr != "" {
		cache := core.NewPresenceCache(redis.NewClient(&redis.Options{
			Addr:     app.config.Redis.Addr,
			Password: app.config.Redis.Password,
			DB:       app.config.Redis.DB,
		}), app.config.Redis.KeyPrefix)
		pingCtx, cancel := context.WithTimeout(app.context, 5*time.Second)
		if err := cache.Ping(pingCtx); err != nil {
			cancel()
			failed(1, "failed to reach redis: %v\n", err)
		}
		cancel()
		app.AddCleanupFunc(func(ctx context.Context) {
			cache.Close()
		})
		presenceOpts = append(presenceOpts, core.WithPresenceCache(cache))
	}
	app.presence = core.NewPresenceTracker(userStore, presenceOpts...)
	app.presence.OnChange(app.onPresenceChange)

	app.roomIndex = core.NewRoomIndex(app.chatStore, app.logger)

	verifier := core.NewJWTVerifier(app.config.Auth.Secret, app.userStore)
	app.registry = core.NewRegistry(verifier, app.roomIndex,
		core.WithRegistryLogger(app.logger),
		core.WithBaseContext(app.context),
		core.WithSendBuffer(app.config.WS.SendBuffer),
	)
	app.registry.OnIdentityOnline(app.onIdentityOnline)
	app.registry.OnIdentityOffline(app.onIdentityOffline)
	app.registry.OnConnect(app.onConnect)

	app.messageRouter = core.NewMessageRouter(app.chatStore, app.roomIndex, app.registry, app.logger)
	app.readReceipts = core.NewReadReceipts(app.chatStore, app.roomIndex, app.registry, app.logger)
	app.typing = core.NewTypingCoordinator(app.chatStore, app.roomIndex, app.registry, app.logger)
	app.callRelay = core.NewCallRelay(app.userStore, app.registry, app.logger)

	app.eventRouter = core.NewEventRouter(app.logger, app.registry.Receive())
	app.eventRouter.On(core.JoinRoomEvent, app.JoinRoomHandler)
	app.eventRouter.On(core.LeaveRoomEvent, app.LeaveRoomHandler)
	app.eventRouter.On(core.SendMessageEvent, app.SendMessageHandler)
	app.eventRouter.On(core.MarkReadEvent, app.MarkReadHandler)
	app.eventRouter.On(core.SetTypingEvent, app.SetTypingHandler)
	app.eventRouter.On(core.SetStatusEvent, app.SetStatusHandler)
	app.eventRouter.On(core.CallRequestEvent, app.CallSignalHandler)
	app.eventRouter.On(core.CallAnswerEvent, app.CallSignalHandler)
	app.eventRouter.On(core.CallSignalEvent, app.CallSignalHandler)
	app.eventRouter.On(core.CallRejectEvent, app.CallSignalHandler)
	app.eventRouter.On(core.CallEndEvent, app.CallSignalHandler)

	app.authHandler = NewAuthHandler(app.userStore, app.config.Auth.Secret, app.config.Auth.TokenTTL)
	app.userHandler = NewUserHandler(app.userStore, app.presence)
	app.chatHandler = NewChatHandler(app.chatStore, app.roomIndex, app.registry)
	authMiddleware := JWTMiddleware(verifier)

	app.router = router.New(router.WithLogger(app.logger))

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.Router.Handle("/ws", app.registry)

	api := router.New(router.WithLogger(app.logger))

	api.Route("/auth", func(r *router.Router) {
		r.Post("/register", app.authHandler.RegisterHandler)
		r.Post("/signin", app.authHandler.SigninHandler)
		r.Post("/signout", app.authHandler.SignoutHandler)
	})

	api.Route("/users", func(r *router.Router) {
		auth := r.With(authMiddleware)
		auth.Get("/me", app.userHandler.MeHandler)
		auth.Get("/me/rooms", app.chatHandler.GetMyRoomsHandler)
		auth.Get("/{username}", app.userHandler.GetUserByUsernameHandler)
	})

	api.Route("/rooms", func(r *router.Router) {
		auth := r.With(authMiddleware)
		auth.Post("/", app.chatHandler.CreateRoomHandler)
		auth.Get("/{roomID}", app.chatHandler.GetRoomByIDHandler)
		auth.Delete("/{roomID}", app.chatHandler.DeleteRoomHandler)
		auth.Get("/{roomID}/messages", app.chatHandler.GetRoomMessagesHandler)
	})

	app.router.Mount("/api", api)

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app
}

func (app *App) Start() {
	app.eventRouter.Listen(app.context)
	app.AddCleanupFunc(func(ctx context.Context) {
		app.registry.Close()
		app.eventRouter.Wait()
	})

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		var wg sync.WaitGroup

		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			go func(f func(context.Context)) {
				defer wg.Done()
				f(closeCtx)
			}(f)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})
	app.logger.Info(fmt.Sprintf("app running on: %s:%d",
		app.config.Hostname, app.config.Port))

	if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	os.Exit(code)
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
