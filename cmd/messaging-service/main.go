package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"teamspace-backend/internal/config"
	"teamspace-backend/internal/database"
	attachmentHandler "teamspace-backend/internal/handler/http/attachment"
	conversationHandler "teamspace-backend/internal/handler/http/conversation"
	messageHandler "teamspace-backend/internal/handler/http/message"
	notificationHandler "teamspace-backend/internal/handler/http/notification"
	"teamspace-backend/internal/handler/ws"
	"teamspace-backend/internal/middleware"
	"teamspace-backend/internal/repository/cassandra"
	"teamspace-backend/internal/repository/cockroach"
	redisRepo "teamspace-backend/internal/repository/redis"
	attachmentService "teamspace-backend/internal/service/attachment"
	"teamspace-backend/internal/service/messaging"
	notificationService "teamspace-backend/internal/service/notification"
	"teamspace-backend/pkg/jwt"
	"teamspace-backend/pkg/logger"
	"teamspace-backend/pkg/metrics"
	"teamspace-backend/pkg/push"
)

func main() {
	// .env is optional; real deployments inject environment directly
	_ = godotenv.Load()

	cfg := config.Load()

	logFormat := "text"
	if cfg.Environment == "production" {
		logFormat = "json"
	}
	if err := logger.Init(&logger.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: logFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(cfg.JWTSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewManager(cfg.JWTSecret, 15*time.Minute)

	// Databases
	cockroachDB, err := database.NewCockroachDB(context.Background(), &cfg.Cockroach)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("Connected to CockroachDB")

	cassandraDB, err := database.NewCassandraDB(&cfg.Cassandra)
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra")

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	// Repositories
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	notificationRepo := cockroach.NewNotificationRepository(cockroachDB.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	mirrorRepo := redisRepo.NewMirrorRepository(redisClient)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisClient)

	appMetrics := metrics.New("messaging-service")

	// Push providers are optional; an unconfigured provider is skipped
	pushers := buildPushProviders(cfg.Push)

	notificationSvc := notificationService.NewService(
		notificationRepo,
		pushTokenRepo,
		pushers,
		notificationService.Config{
			Retention:  cfg.Notifications.Retention,
			MaxPerUser: cfg.Notifications.MaxPerUser,
		},
		appMetrics,
	)

	messagingSvc := messaging.NewService(conversationRepo, messageRepo, mirrorRepo, notificationSvc, appMetrics)

	hub := ws.NewHub(messagingSvc, appMetrics)
	messagingSvc.SetBroadcaster(hub)

	// Attachment storage is optional; without it the presign endpoints
	// are not registered
	var attachmentSvc *attachmentService.Service
	if cfg.MinIO.Endpoint != "" {
		attachmentSvc, err = attachmentService.NewService(context.Background(), cfg.MinIO)
		if err != nil {
			logger.Fatal("Failed to initialize attachment storage", zap.Error(err))
		}
		logger.Info("Connected to MinIO", zap.String("bucket", cfg.MinIO.Bucket))
	}

	// Handlers
	conversationHdlr := conversationHandler.NewHandler(messagingSvc)
	messageHdlr := messageHandler.NewHandler(messagingSvc)
	notificationHdlr := notificationHandler.NewHandler(notificationSvc, pushTokenRepo)

	// Router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	router.Use(middleware.Prometheus(appMetrics))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "messaging-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	revocationChecker := middleware.NewRedisRevocationChecker(redisClient)
	authn := middleware.Auth(jwtManager, revocationChecker)

	// The WebSocket endpoint holds connections open for the session
	// lifetime, so it skips the request timeout
	router.GET("/ws", authn, hub.ServeWS)

	v1 := router.Group("/v1")
	v1.Use(authn)
	v1.Use(middleware.Timeout(30 * time.Second))
	{
		conversations := v1.Group("/conversations")
		{
			conversations.POST("", conversationHdlr.CreateConversation)
			conversations.GET("", conversationHdlr.GetConversations)
			conversations.GET("/:id", conversationHdlr.GetConversation)
			conversations.PATCH("/:id", conversationHdlr.UpdateConversation)
			conversations.DELETE("/:id", conversationHdlr.DeleteConversation)
			conversations.PUT("/:id/archive", conversationHdlr.SetArchived)
			conversations.POST("/:id/read", conversationHdlr.MarkRead)
			conversations.POST("/:id/participants", conversationHdlr.AddParticipant)
			conversations.DELETE("/:id/participants/:userId", conversationHdlr.RemoveParticipant)
			conversations.DELETE("/:id/messages", conversationHdlr.ClearHistory)

			conversations.POST("/:id/messages", messageHdlr.SendMessage)
			conversations.GET("/:id/messages", messageHdlr.GetMessages)
			conversations.POST("/:id/messages/:messageId/reactions", messageHdlr.AddReaction)
			conversations.DELETE("/:id/messages/:messageId/reactions", messageHdlr.RemoveReaction)
			conversations.POST("/:id/messages/:messageId/read", messageHdlr.MarkRead)
			conversations.DELETE("/:id/messages/:messageId", messageHdlr.DeleteMessage)
		}

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", notificationHdlr.GetNotifications)
			notifications.GET("/unread-count", notificationHdlr.GetUnreadCount)
			notifications.PUT("/:id/read", notificationHdlr.MarkAsRead)
			notifications.PUT("/read-all", notificationHdlr.MarkAllAsRead)
			notifications.DELETE("/:id", notificationHdlr.DeleteNotification)
			notifications.POST("/push-tokens", notificationHdlr.RegisterPushToken)
			notifications.DELETE("/push-tokens", notificationHdlr.UnregisterPushToken)
		}

		if attachmentSvc != nil {
			attachmentHdlr := attachmentHandler.NewHandler(attachmentSvc)
			attachments := v1.Group("/attachments")
			{
				attachments.POST("/presign", attachmentHdlr.PresignUpload)
				attachments.GET("/download", attachmentHdlr.PresignDownload)
			}
		}
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Messaging service starting",
			zap.Int("port", cfg.Port),
			zap.String("environment", cfg.Environment),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}

// buildPushProviders wires whichever push backends are configured
func buildPushProviders(cfg config.PushConfig) map[push.TokenType]push.Provider {
	pushers := make(map[push.TokenType]push.Provider)

	if cfg.FCMCredentialsPath != "" {
		fcm, err := push.NewFCMProvider(&push.FCMConfig{
			CredentialsPath: cfg.FCMCredentialsPath,
			ProjectID:       cfg.FCMProjectID,
		})
		if err != nil {
			logger.Warn("FCM provider disabled", zap.Error(err))
		} else {
			pushers[push.TokenTypeFCM] = fcm
			logger.Info("FCM push provider enabled")
		}
	}

	if cfg.APNsKeyPath != "" {
		apns, err := push.NewAPNsProvider(&push.APNsConfig{
			KeyPath:    cfg.APNsKeyPath,
			KeyID:      cfg.APNsKeyID,
			TeamID:     cfg.APNsTeamID,
			BundleID:   cfg.APNsBundleID,
			Production: cfg.APNsProduction,
		})
		if err != nil {
			logger.Warn("APNs provider disabled", zap.Error(err))
		} else {
			pushers[push.TokenTypeAPNs] = apns
			logger.Info("APNs push provider enabled")
		}
	}

	return pushers
}
