package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-broker/internal/auth"
	"chat-broker/internal/bridge"
	"chat-broker/internal/config"
	"chat-broker/internal/db"
	grpcserver "chat-broker/internal/grpc"
	"chat-broker/internal/handlers"
	"chat-broker/internal/middleware"
	"chat-broker/internal/observability"
	"chat-broker/internal/rabbitmq"
	"chat-broker/internal/repositories"
	"chat-broker/internal/telemetry"
	"chat-broker/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment)

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()
	messageRepo := repositories.NewMessageRepo(database)

	broker := ws.NewBroker(ws.Options{
		Store:          messageRepo,
		PersistTimeout: cfg.PersistTimeout,
		Audit:          auditEmitter,
	})
	friendBridge := bridge.New(broker, auditEmitter)

	var consumer *rabbitmq.FriendConsumer
	if cfg.AMQPURL != "" {
		consumer, err = rabbitmq.NewFriendConsumer(cfg.AMQPURL, cfg.AMQPExchange, cfg.FriendQueue, friendBridge)
		if err != nil {
			log.Printf("friend consumer disabled: %v", err)
		} else if err := consumer.Start(ctx); err != nil {
			log.Printf("friend consumer disabled: %v", err)
			_ = consumer.Close()
			consumer = nil
		}
	}

	verifier := auth.NewTokenVerifier(cfg.JWTSecret)
	healthServer := grpcserver.NewHealthServer(cfg.ServiceName)

	historyHandler := handlers.NewHistoryHandler(messageRepo, cfg.HistoryTimeout)
	friendsHandler := handlers.NewFriendsHandler(friendBridge)
	wsHandler := ws.NewHandler(broker, verifier, ws.ClientConfig{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
		RatePerSecond:  cfg.RatePerSecond,
		RateBurst:      cfg.RateBurst,
	}, cfg.AllowedOrigins)

	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)
	internalMiddleware := middleware.InternalTokenMiddleware(cfg.InternalToken)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if !healthServer.Serving() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ws", wsHandler.Handle)
	router.GET("/chat/:room/history", authMiddleware, historyHandler.GetHistory)

	internal := router.Group("/internal", internalMiddleware)
	internal.POST("/friends/added", friendsHandler.FriendAdded)
	internal.POST("/friends/removed", friendsHandler.FriendRemoved)

	handlers.RegisterDebugRoutes(router, auditEmitter, broker, cfg.DebugRoutes)

	go func() {
		if err := healthServer.ListenAndServe(":" + cfg.GRPCPort); err != nil {
			log.Printf("grpc server error: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("chat-broker listening port=%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown signal received")

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	broker.Shutdown()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Printf("friend consumer close error: %v", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}
}
