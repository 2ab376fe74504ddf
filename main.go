package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pet-society-chat/internal/config"
	"pet-society-chat/internal/crypto"
	"pet-society-chat/internal/db"
	"pet-society-chat/internal/handlers"
	"pet-society-chat/internal/middleware"
	"pet-society-chat/internal/observability"
	"pet-society-chat/internal/rabbitmq"
	"pet-society-chat/internal/repositories"
	"pet-society-chat/internal/service"
	"pet-society-chat/internal/telemetry"
	"pet-society-chat/internal/ws"
)

const serviceName = "pet-society-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogging(cfg)

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Otel.Endpoint, serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	database, err := db.Connect(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	codec, err := crypto.NewCodec(cfg.Chat.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise message codec")
	}
	if codec.KeyGenerated() {
		log.Warn().Msg("no usable encryption key configured, generated an ephemeral one; stored messages will be unreadable after restart")
	}

	events := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer events.Close()

	audit := telemetry.NewAuditEmitter(events, cfg.AMQP.AuditRoutingKey, serviceName, cfg.Server.Environment)

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	broker := ws.NewBroker()
	chatService := service.NewChatService(roomRepo, messageRepo, userRepo, codec, broker)

	chatHandler := handlers.NewChatGroupHandler(chatService, cfg.Chat, audit)
	roomWS := ws.NewRoomWSHandler(broker, roomRepo, userRepo, chatService, events)
	notificationWS := ws.NewNotificationWSHandler(broker, userRepo, events)

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(userRepo)

	api := router.Group("/api/chats", authMiddleware)
	api.GET("/groups", chatHandler.ListGroups)
	api.POST("/groups", chatHandler.CreateGroup)
	api.POST("/groups/:room_name/join", chatHandler.JoinGroup)
	api.POST("/groups/:room_name/leave", chatHandler.LeaveGroup)
	api.POST("/groups/:room_name/invite", chatHandler.InviteUser)
	api.GET("/groups/:room_name/messages", chatHandler.GetMessages)
	api.POST("/groups/:room_name/messages", chatHandler.SendMessage)
	api.POST("/groups/:room_name/read", chatHandler.MarkRead)
	api.GET("/unread-count", chatHandler.UnreadCount)

	router.GET("/ws/chat/:room_name", roomWS.Handle)
	router.GET("/ws/notifications/:user_id", notificationWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.Server.Debug)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().
		Str("addr", addr).
		Str("environment", cfg.Server.Environment).
		Str("amqp_mode", rabbitmq.PublisherMode(events)).
		Msg("chat service listening")

	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Server.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
