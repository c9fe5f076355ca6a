package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	identitypb "dm-service/pb/identity"

	"dm-service/internal/config"
	"dm-service/internal/db"
	grpcclient "dm-service/internal/grpc"
	"dm-service/internal/handlers"
	"dm-service/internal/middleware"
	"dm-service/internal/observability"
	"dm-service/internal/rabbitmq"
	"dm-service/internal/repositories"
	"dm-service/internal/service"
	"dm-service/internal/telemetry"
	"dm-service/internal/ws"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, "dm-service", cfg.Tracing.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	identityConn, err := grpc.Dial(cfg.Identity.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
	if err != nil {
		log.Fatalf("failed to connect to identity grpc: %v", err)
	}
	defer identityConn.Close()

	identityClient := grpcclient.NewIdentityClient(identitypb.NewIdentityServiceClient(identityConn))

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.EventsExchange)
	defer publisher.Close()
	log.Printf("events publisher mode=%s", rabbitmq.PublisherMode(publisher))
	if reason := rabbitmq.PublisherNoopReason(publisher); reason != "" {
		log.Printf("events publisher noop reason=%s", reason)
	}

	if cfg.AMQP.URL != "" {
		if wsPublisher, err := observability.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.EventsExchange); err != nil {
			log.Printf("ws event publisher disabled: %v", err)
		} else {
			observability.SetPublisher(wsPublisher)
			defer wsPublisher.Close()
		}
	}

	audit := telemetry.NewAuditEmitter(publisher, "audit.dm", "dm-service", cfg.AMQP.Environment)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	readStateRepo := repositories.NewReadStateRepo(database)
	rateLimitRepo := repositories.NewRateLimitRepo(database)

	hub := ws.NewHub()

	core := service.NewMessaging(
		conversationRepo, messageRepo, readStateRepo, rateLimitRepo,
		hub, publisher,
		cfg.RateLimit.CreateWindow, cfg.RateLimit.CreateMax, cfg.DB.QueryTimeout,
	)

	conversationHandler := handlers.NewConversationHandler(core, identityClient, audit)
	messageHandler := handlers.NewMessageHandler(core, identityClient, audit)
	streamHandler := ws.NewStreamHandler(hub, conversationRepo, identityClient)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("dm-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(identityClient)
	throttle := middleware.NewThrottle(cfg.RateLimit.RequestsPerSec, cfg.RateLimit.RequestBurst)

	api := router.Group("/", authMiddleware, throttle.Middleware())
	api.GET("/conversations", conversationHandler.ListConversations)
	api.POST("/conversations", conversationHandler.StartConversation)
	api.GET("/conversations/:conversation_id/messages", messageHandler.GetMessages)
	api.POST("/conversations/:conversation_id/messages", messageHandler.PostMessage)
	api.DELETE("/conversations/:conversation_id/messages/:message_id", messageHandler.DeleteMessage)
	api.POST("/conversations/:conversation_id/read", conversationHandler.MarkRead)
	api.GET("/conversations/:conversation_id/unread", conversationHandler.UnreadCount)

	router.GET("/ws/conversations/:conversation_id", streamHandler.HandleConversation)
	router.GET("/ws/inbox", streamHandler.HandleInbox)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.Debug)

	if err := router.Run(":" + cfg.HTTP.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
