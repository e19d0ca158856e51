// Package main runs the space server: configuration, the space source,
// the room registry, and the WebSocket gateway.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cory-johannsen/plaza/internal/auth"
	"github.com/cory-johannsen/plaza/internal/config"
	"github.com/cory-johannsen/plaza/internal/frontend/ws"
	"github.com/cory-johannsen/plaza/internal/observability"
	"github.com/cory-johannsen/plaza/internal/presence"
	"github.com/cory-johannsen/plaza/internal/room"
	"github.com/cory-johannsen/plaza/internal/server"
	"github.com/cory-johannsen/plaza/internal/session"
	"github.com/cory-johannsen/plaza/internal/space"
	"github.com/cory-johannsen/plaza/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("starting plaza space server",
		zap.String("name", cfg.Server.Name),
		zap.String("spaces_source", cfg.Spaces.Source),
	)

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)

	var (
		loader room.SourceLoader
		pool   *postgres.Pool
	)
	switch cfg.Spaces.Source {
	case "postgres":
		pool, err = postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		loader = room.SourceLoader{
			Spaces:  postgres.NewSpaceRepository(pool.DB()),
			History: postgres.NewShapeRepository(pool.DB()),
		}
		lifecycle.Add("postgres", server.Closer(pool.Close))
	default:
		descriptors, err := space.LoadDescriptorsFromDir(cfg.Spaces.Dir)
		if err != nil {
			logger.Fatal("loading spaces", zap.String("dir", cfg.Spaces.Dir), zap.Error(err))
		}
		catalog, err := space.NewCatalog(descriptors)
		if err != nil {
			logger.Fatal("building space catalog", zap.Error(err))
		}
		logger.Info("space catalog loaded", zap.Int("spaces", catalog.Len()))
		loader = room.SourceLoader{Spaces: catalog}
	}

	registry := room.NewRegistry(loader, logger.Named("room"))
	tracker := presence.NewTracker()
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	sessions := session.NewManager(registry, verifier, tracker, logger.Named("session"),
		session.OptionsFromConfig(cfg.Session, cfg.WebSocket.OutboxSize))

	acceptor := ws.NewAcceptor(cfg.WebSocket, sessions, registry.Stats, logger.Named("ws"))
	if pool != nil {
		acceptor.AddCheck("database", func(ctx context.Context) error {
			return pool.Health(ctx, 2*time.Second)
		})
	}

	lifecycle.Add("sessions", server.Closer(sessions.CloseAll))
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("ws_addr", cfg.WebSocket.Addr()),
		zap.String("ws_path", cfg.WebSocket.Path),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
