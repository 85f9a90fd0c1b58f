package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"message-sync/internal/cache"
	"message-sync/internal/config"
	"message-sync/internal/db"
	"message-sync/internal/directory"
	"message-sync/internal/handlers"
	"message-sync/internal/identity"
	"message-sync/internal/middleware"
	"message-sync/internal/observability"
	"message-sync/internal/push"
	"message-sync/internal/rabbitmq"
	"message-sync/internal/repositories"
	"message-sync/internal/store"
	"message-sync/internal/telemetry"
)

const serviceName = "message-sync"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		logger.Error("failed to init tracing", "err", err)
		os.Exit(1)
	}

	messageStore := store.NewRESTStore(store.Options{
		BaseURL:  cfg.APIBaseURL,
		OrgID:    cfg.OrgID,
		Token:    cfg.APIToken,
		PageSize: cfg.PageSize,
		Timeout:  cfg.HTTPTimeout,
		Retries:  cfg.HTTPRetries,
	})
	identityClient := identity.NewClient(cfg.IdentityBaseURL, cfg.OrgID, cfg.UserID, cfg.APIToken, cfg.HTTPTimeout)

	var archive cache.Archive
	if cfg.ArchiveDSN != "" {
		database, err := db.Connect(cfg.ArchiveDSN)
		if err != nil {
			logger.Error("failed to connect to archive db", "err", err)
			os.Exit(1)
		}
		defer database.Close()
		archive = repositories.NewMessageRepo(database)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	logger.Info("failure publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))
	emitter := telemetry.NewAuditEmitter(publisher, "sync.failures", serviceName, cfg.Environment, logger)
	emitter.Emit(ctx, "INFO", "sync sidecar starting", "", &cfg.UserID)

	reconciler := cache.New(cache.Config{
		Store:    messageStore,
		Identity: identityClient,
		Archive:  archive,
		Reporter: emitter,
		Logger:   logger,
		PageSize: cfg.PageSize,
	})

	rooms := directory.New(messageStore, cfg.UserID, logger)
	if err := rooms.Refresh(ctx); err == nil {
		logger.Info("room directory loaded", "rooms", rooms.Len())
	}

	hub := push.NewHub(logger)
	source := newPushSource(cfg, hub, logger)
	if source != nil {
		go func() {
			if err := source.Run(ctx); err != nil {
				logger.Error("push source stopped", "mode", cfg.PushMode, "err", err)
			}
		}()
	}
	follower := push.NewFollower(hub, source, reconciler.MergeRemoteEvent)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(observability.RequestLogger(logger))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/", middleware.TokenAuth(cfg.SidecarToken))
	handlers.NewRoomHandler(reconciler, rooms, follower, logger).Register(api)
	handlers.RegisterDebugRoutes(api, emitter, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("sync sidecar listening", "port", cfg.Port, "push_mode", cfg.PushMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	reconciler.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", "err", err)
	}
}

func newPushSource(cfg config.Config, hub *push.Hub, logger *slog.Logger) push.Source {
	switch cfg.PushMode {
	case config.PushWebSocket:
		return push.NewWSClient(hub, push.WSOptions{URL: cfg.PushURL, Token: cfg.APIToken, Logger: logger})
	case config.PushRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return push.NewRedisSource(client, cfg.RedisChannelPrefix, hub, logger)
	default:
		return nil
	}
}
