package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/skillbridge-app/skillbridge-api/internal/config"
	"github.com/skillbridge-app/skillbridge-api/internal/database"
	"github.com/skillbridge-app/skillbridge-api/internal/handler"
	"github.com/skillbridge-app/skillbridge-api/internal/middleware"
	"github.com/skillbridge-app/skillbridge-api/internal/models"
	"github.com/skillbridge-app/skillbridge-api/internal/repository"
	"github.com/skillbridge-app/skillbridge-api/internal/router"
	"github.com/skillbridge-app/skillbridge-api/internal/service"
	cloud "github.com/skillbridge-app/skillbridge-api/pkg/cloudinary"
	"github.com/skillbridge-app/skillbridge-api/pkg/roomcrypto"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.ChatRoom{},
		&models.ChatMessage{},
		&models.MentorshipMatch{},
		&models.MentorshipSession{},
		&models.Notification{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, running single-node")
		natsConn = nil
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	codec, err := roomcrypto.New(cfg.ChatMasterKey)
	if err != nil {
		log.Fatalf("failed to initialize room crypto: %v", err)
	}

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	roomRepo := repository.NewChatRoomRepository(db)
	messageRepo := repository.NewChatMessageRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	notificationService := service.NewNotificationService(notificationRepo, redisClient, cfg.ChannelBase, cfg.UnreadCacheTTL, natsConn, validate, logger)
	chatService := service.NewChatService(roomRepo, messageRepo, matchRepo, codec, uploader, cfg.AttachmentMaxSizeMB, redisClient, cfg.ChannelBase, natsConn, validate, logger)
	sessionService := service.NewSessionService(sessionRepo, matchRepo, notificationService, validate, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notificationService.Start(runCtx)
	chatService.Start(runCtx)

	chatHandler := handler.NewChatHandler(chatService, validate, logger)
	sessionHandler := handler.NewSessionHandler(sessionService, validate, logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, logger, cfg.SSEKeepAlive)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         chatHandler,
		SessionHandler:      sessionHandler,
		NotificationHandler: notificationHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
