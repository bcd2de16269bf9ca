package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"whisper-service/internal/auth"
	"whisper-service/internal/db"
	"whisper-service/internal/delivery"
	"whisper-service/internal/handlers"
	"whisper-service/internal/middleware"
	"whisper-service/internal/observability"
	"whisper-service/internal/rabbitmq"
	"whisper-service/internal/repositories"
	"whisper-service/internal/retention"
	"whisper-service/internal/telemetry"
	"whisper-service/internal/ws"
)

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, "whisper-service")
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(os.Getenv("AMQP_URL"), getEnv("AMQP_EXCHANGE", "whisper.events"))
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	emitter := telemetry.NewAuditEmitter(publisher, "audit.whisper", "whisper-service", getEnv("ENVIRONMENT", "development"))

	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	tokens := auth.NewTokenManager(
		getEnv("JWT_SECRET", "dev-secret-change-me"),
		getDurationEnv("TOKEN_TTL_HOURS", 168)*time.Hour,
	)

	horizon := getDurationEnv("RETENTION_HOURS", 24) * time.Hour
	sweepInterval := getDurationEnv("SWEEP_INTERVAL_MINUTES", 60) * time.Minute

	hub := ws.NewHub()
	engine := delivery.NewEngine(messageRepo, userRepo, hub)
	gateway := ws.NewGateway(hub, engine, tokens)

	sweeper := retention.NewSweeper(messageRepo, horizon, sweepInterval)
	sweeper.Sweep(ctx)
	go sweeper.Run(ctx)
	log.Printf("message retention: %s (sweep runs every %s)", horizon, sweepInterval)

	authHandler := handlers.NewAuthHandler(userRepo, tokens, emitter)
	messageHandler := handlers.NewMessageHandler(messageRepo, horizon)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(otelgin.Middleware("whisper-service"))

	authMiddleware := middleware.AuthMiddleware(tokens)

	router.POST("/api/auth/register", authHandler.Register)
	router.POST("/api/auth/login", authHandler.Login)
	router.GET("/api/auth/me", authMiddleware, authHandler.Me)
	router.PUT("/api/auth/public-key", authMiddleware, authHandler.UpdatePublicKey)
	router.GET("/api/auth/users", authMiddleware, authHandler.ListUsers)

	router.GET("/api/messages/conversation/:user_id", authMiddleware, messageHandler.GetConversation)
	router.GET("/api/messages/unread", authMiddleware, messageHandler.UnreadCount)
	router.PUT("/api/messages/:message_id/read", authMiddleware, messageHandler.MarkRead)

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", gateway.Handle)

	handlers.RegisterDebugRoutes(router, emitter, getEnv("AUDIT_DEBUG", "") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getDurationEnv(key string, fallback int) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return time.Duration(parsed)
		}
	}
	return time.Duration(fallback)
}
