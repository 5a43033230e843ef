package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/casebot/backend/internal/api/handlers"
	"github.com/casebot/backend/internal/app"
	"github.com/casebot/backend/internal/metrics"
	"github.com/casebot/backend/internal/middleware/ratelimit"
	"github.com/casebot/backend/internal/middleware/security"
	"github.com/casebot/backend/internal/middleware/validation"
	"github.com/casebot/backend/pkg/config"
	appLogger "github.com/casebot/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting casebot API server", zap.String("index_backend", cfg.Index.Backend))

	metrics.Init()

	ctx := context.Background()
	svc, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer svc.Close()

	if cfg.Ingestion.SweepOnStart {
		go sweep(ctx, svc)
	}

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		WindowDuration:       time.Minute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	validationCfg := validation.Config{
		MaxK:            50,
		MaxDocumentSize: int64(cfg.Server.BodyLimit),
		Supported:       svc.Extractor.Supported,
		Logger:          appLogger.GetLogger(),
	}

	wsHandler := handlers.NewWebSocketHandler(svc.Orchestrator)
	documentHandler := handlers.NewDocumentHandler(svc.Processor, svc.Uploads, svc.Store, svc.Index, svc.SweepDirs())
	queryHandler := handlers.NewQueryHandler(svc.Engine, svc.Store)
	sessionHandler := handlers.NewSessionHandler(svc.Store)
	groupHandler := handlers.NewGroupHandler(svc.Store)
	healthHandler := handlers.NewHealthHandler(svc.Store, svc.Index)

	server.Use("/ws", wsHandler.Upgrade)
	server.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	server.Get("/metrics", metrics.MetricsHandler())

	api := server.Group("/api/v1", limiter.Middleware(), validation.ContentType(validationCfg))

	api.Post("/documents", validation.Upload(validationCfg), documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Post("/documents/sweep", documentHandler.Sweep)

	api.Post("/query", validation.Query(validationCfg), queryHandler.HandleQuery)

	api.Get("/sessions", sessionHandler.ListSessions)
	api.Get("/sessions/:id/history", sessionHandler.GetHistory)
	api.Post("/sessions/:id/archive", sessionHandler.ArchiveSession)
	api.Put("/sessions/:id", sessionHandler.RenameSession)

	api.Post("/groups", groupHandler.CreateGroup)
	api.Get("/groups", groupHandler.ListGroups)
	api.Post("/groups/:id/files", groupHandler.AddFiles)

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func sweep(ctx context.Context, svc *app.Services) {
	for _, dir := range svc.SweepDirs() {
		summary, err := svc.Processor.IngestFolder(ctx, dir)
		if err != nil {
			appLogger.Warn("Startup sweep skipped folder", zap.String("dir", dir), zap.Error(err))
			continue
		}
		appLogger.Info("Startup sweep finished",
			zap.String("dir", dir),
			zap.Int("inserted", summary.Inserted),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
		)
	}
}
