// Package main provides the match server binary: the HTTP API, the WebSocket
// event endpoint, the expiry sweeper and the admin health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/duel/internal/auth"
	"github.com/cory-johannsen/duel/internal/chat"
	"github.com/cory-johannsen/duel/internal/config"
	"github.com/cory-johannsen/duel/internal/frontend/api"
	"github.com/cory-johannsen/duel/internal/frontend/ws"
	"github.com/cory-johannsen/duel/internal/game/match"
	"github.com/cory-johannsen/duel/internal/game/matchmaking"
	"github.com/cory-johannsen/duel/internal/game/session"
	"github.com/cory-johannsen/duel/internal/gameserver"
	"github.com/cory-johannsen/duel/internal/observability"
	"github.com/cory-johannsen/duel/internal/server"
	"github.com/cory-johannsen/duel/internal/storage/objectstore"
	"github.com/cory-johannsen/duel/internal/storage/postgres"
	"github.com/cory-johannsen/duel/internal/storage/redisstore"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	migrateOnStart := flag.Bool("migrate", false, "apply pending database migrations before serving")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting match server",
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.String("admin_addr", cfg.Admin.Addr()),
	)

	if *migrateOnStart {
		migrateStart := time.Now()
		if err := postgres.MigrateUp(cfg.Database.DSN()); err != nil {
			logger.Fatal("applying migrations", zap.Error(err))
		}
		logger.Info("migrations applied", zap.Duration("elapsed", time.Since(migrateStart)))
	}

	// Connect to PostgreSQL for accounts and chat history
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	users := postgres.NewUserRepository(pool.DB())
	messages := postgres.NewMessageRepository(pool.DB())

	var presence gameserver.PresenceMirror
	if cfg.Redis.Enabled {
		client, err := redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		defer client.Close()
		mirror := redisstore.NewPresence(client, cfg.Redis.PresenceKey)
		if err := mirror.Reset(ctx); err != nil {
			logger.Warn("clearing presence set", zap.Error(err))
		}
		presence = mirror
		logger.Info("presence mirror enabled", zap.String("key", cfg.Redis.PresenceKey))
	}

	var images api.ImageUploader
	if cfg.ObjectStore.Enabled {
		store, err := objectstore.New(ctx, cfg.ObjectStore)
		if err != nil {
			logger.Fatal("connecting to object store", zap.Error(err))
		}
		images = store
		logger.Info("object store enabled", zap.String("bucket", cfg.ObjectStore.Bucket))
	}

	// Matchmaking core
	registry := session.NewRegistry()
	rooms := match.NewDirectory()
	queue := matchmaking.NewQueue(rooms)
	var store chat.Store = messages
	chatHandler := gameserver.NewChatHandler(rooms, store, logger)
	gameSrv := gameserver.NewServer(registry, rooms, queue, chatHandler, presence, cfg.WebSocket.SendBuffer, logger)
	sweeper := gameserver.NewSweeper(gameSrv, cfg.Matchmaking)

	tokens := auth.NewTokenIssuer(cfg.Auth)
	acceptor := ws.NewAcceptor(cfg.WebSocket, tokens, ws.SessionHandlerFunc(
		func(ctx context.Context, identity auth.Identity, conn *ws.Conn) error {
			return gameSrv.Serve(ctx, identity, conn)
		},
	), logger)

	router := api.NewRouter(api.Deps{
		Users:          users,
		Messages:       messages,
		Images:         images,
		Tokens:         tokens,
		Health:         pool,
		WebSocket:      acceptor,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Logger:         logger,
	})
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	admin := server.NewAdminServer(cfg.Admin.Addr(), logger)

	lifecycle := server.NewLifecycle(logger, cfg.HTTP.ShutdownTimeout)
	lifecycle.Add("admin", admin)
	lifecycle.Add("sweeper", &server.FuncService{StartFn: sweeper.Start})
	lifecycle.Add("http", &server.FuncService{
		StartFn: func(context.Context) error {
			logger.Info("http listening", zap.String("addr", httpSrv.Addr))
			admin.SetServing(true)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func(ctx context.Context) {
			admin.SetServing(false)
			if err := httpSrv.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			acceptor.Stop()
		},
	})

	logger.Info("match server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("match server stopped with error", zap.Error(err))
	}
}
