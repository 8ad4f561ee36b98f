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
	"golang.org/x/sync/errgroup"

	"coach-chat/internal/auth"
	"coach-chat/internal/config"
	"coach-chat/internal/db"
	"coach-chat/internal/delivery"
	"coach-chat/internal/handlers"
	"coach-chat/internal/logger"
	"coach-chat/internal/middleware"
	"coach-chat/internal/observability"
	"coach-chat/internal/rabbitmq"
	"coach-chat/internal/repositories"
	"coach-chat/internal/router"
	"coach-chat/internal/telemetry"
	"coach-chat/internal/ws"
)

const serviceName = "coach-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer appLog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:     cfg.OTelEnabled,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelRatio,
	}, appLog)
	if err != nil {
		appLog.Fatal("failed to init tracing", "error", err)
	}

	var (
		convRepo    repositories.ConversationRepository
		messageRepo repositories.MessageRepository
	)
	if cfg.DatabaseDSN == config.MemoryDSN {
		appLog.Warn("using in-process message store; history is lost on restart")
		convRepo = repositories.NewOpenConversationRepo()
		messageRepo = repositories.NewMemoryMessageRepo()
	} else {
		database, err := db.Connect(ctx, cfg.DatabaseDSN)
		if err != nil {
			appLog.Fatal("failed to connect to db", "error", err)
		}
		defer database.Close()
		convRepo = repositories.NewConversationRepo(database)
		messageRepo = repositories.NewMessageRepo(database)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, appLog)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	appLog.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))

	validator := auth.NewValidator(cfg.JWTSecret)
	registry := ws.NewRegistry(appLog)
	eventRouter := router.New(messageRepo, registry, nil, appLog)
	tracker := delivery.NewTracker(messageRepo, appLog)

	conversationHandler := handlers.NewConversationHandler(convRepo, messageRepo, tracker, eventRouter, appLog)
	chatWS := ws.NewChatWebSocketHandler(registry, eventRouter, convRepo, validator, appLog, cfg.WSSendBuffer)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	// middlewares
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(observability.HTTPMetricsMiddleware())

	engine.GET("/healthz", handlers.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/", middleware.AuthMiddleware(validator))
	conversationHandler.Register(api)

	engine.GET("/ws/conversations/:conversation_id", chatWS.Handle)
	engine.GET("/ws", chatWS.Handle)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Warn("http shutdown failed", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			appLog.Warn("tracing shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLog.Error("server error", "error", err)
		os.Exit(1)
	}
	appLog.Info("shutdown complete")
}
