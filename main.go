package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"marketplace-chat-service/internal/auth"
	"marketplace-chat-service/internal/chat"
	"marketplace-chat-service/internal/clients"
	"marketplace-chat-service/internal/config"
	"marketplace-chat-service/internal/db"
	"marketplace-chat-service/internal/handlers"
	"marketplace-chat-service/internal/middleware"
	"marketplace-chat-service/internal/observability"
	"marketplace-chat-service/internal/rabbitmq"
	"marketplace-chat-service/internal/repositories"
	"marketplace-chat-service/internal/telemetry"
	"marketplace-chat-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := cache.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable, listing cache disabled: %v", err)
			cache = nil
		}
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.chat", "marketplace-chat-service", cfg.Environment)

	if cfg.AMQPURL != "" {
		eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("ws event publisher disabled: %v", err)
		} else {
			observability.SetPublisher(eventsPublisher)
			defer eventsPublisher.Close()
		}
	}

	validator := auth.NewTokenValidator(cfg.JWTSecret)
	listingClient := clients.NewListingClient(cfg.ListingServiceURL, cache, cfg.ListingCacheTTL)

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	registry := chat.NewRegistry(roomRepo, listingClient)
	dispatcher := chat.NewDispatcher(messageRepo)
	relay := chat.NewRelay(roomRepo, messageRepo, hub, dispatcher)

	if err := dispatcher.Rebuild(ctx); err != nil {
		log.Fatalf("failed to rebuild unread counters: %v", err)
	}

	roomHandler := handlers.NewRoomHandler(registry, relay, dispatcher, roomRepo, messageRepo, listingClient, audit)
	wsHandler := ws.NewHandler(hub, registry, relay, dispatcher, validator, cfg.HandshakeTimeout, cfg.SendBufferSize)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("marketplace-chat-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/chat/rooms", authMiddleware, roomHandler.ListRooms)
	router.POST("/chat/rooms/start", authMiddleware, roomHandler.StartRoom)
	router.GET("/chat/rooms/:room_id/messages", authMiddleware, roomHandler.GetRoomMessages)
	router.GET("/chat/unread", authMiddleware, roomHandler.Unread)

	router.GET("/ws/chat", wsHandler.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
