package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pairchat/internal/auth"
	"pairchat/internal/config"
	"pairchat/internal/events"
	"pairchat/internal/httpapi"
	"pairchat/internal/observability"
	"pairchat/internal/relay"
	"pairchat/internal/repository"
	"pairchat/internal/router"
	"pairchat/internal/server"
)

func main() {
	cfg := config.Load()

	observability.InitLogger(cfg.ServiceName)
	log := observability.Log

	ctx, cancel := setupSignalHandler(log)
	defer cancel()

	instanceID := getOrGenerateInstanceID(cfg.InstanceID)

	store, readyChecks := initStore(ctx, cfg, log)
	authenticator := auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	registry := relay.NewRegistry()

	var remote relay.RemotePublisher
	var rtr *router.Router
	if cfg.RedisAddr != "" {
		redisClient := initRedis(ctx, cfg.RedisAddr, log)
		rtr = router.New(redisClient, instanceID)
		remote = rtr
		readyChecks = append(readyChecks, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	} else {
		log.Info("no redis configured, running single-instance")
	}
	broadcaster := relay.NewFanout(registry, remote, cfg.ServiceName)
	if rtr != nil {
		rtr.Subscribe(ctx, broadcaster.DeliverLocal)
	}

	producer := initProducer(cfg, log)
	if kp, ok := producer.(*events.Kafka); ok {
		defer kp.Close()
	}

	wsHandler := relay.NewHandler(registry, authenticator, store, broadcaster, producer, cfg.ServiceName)
	apiHandler := httpapi.NewHandler(store, broadcaster, authenticator)

	obsSrv := initObservabilityServer(cfg, readyChecks)
	mainSrv := server.New(cfg.HTTPAddr, initMainRouter(cfg, wsHandler, apiHandler))

	startServers(cfg, obsSrv, mainSrv, log)

	<-ctx.Done()
	performGracefulShutdown(obsSrv, mainSrv, registry, log)
}

func setupSignalHandler(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
		cancel()
	}()
	return ctx, cancel
}

func getOrGenerateInstanceID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func initStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.MessageStore, []func(context.Context) error) {
	if cfg.DatabaseURL == "" {
		log.Warn("no database configured, messages are held in memory only")
		return repository.NewMemory(), nil
	}

	pg, err := repository.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open postgres", zap.Error(err))
	}
	if err := pg.DB.PingContext(ctx); err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}
	return pg, []func(context.Context) error{pg.DB.PingContext}
}

func initRedis(ctx context.Context, addr string, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	return client
}

func initProducer(cfg *config.Config, log *zap.Logger) events.Producer {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Noop{}
	}
	producer, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		log.Fatal("failed to create kafka producer", zap.Error(err))
	}
	return producer
}

func initObservabilityServer(cfg *config.Config, readyChecks []func(context.Context) error) *http.Server {
	mux := chi.NewRouter()
	mux.Use(observability.MetricsMiddleware(cfg.ServiceName))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler(readyChecks...))
	return &http.Server{Addr: cfg.ObsHTTPAddr, Handler: mux}
}

func initMainRouter(cfg *config.Config, wsHandler *relay.Handler, apiHandler *httpapi.Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Use(httpapi.RequestID)
	mux.Use(observability.MetricsMiddleware(cfg.ServiceName))
	mux.Use(httpapi.Recovery())
	mux.Use(httpapi.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	mux.Handle("/ws", wsHandler)
	mux.Mount("/api", apiHandler.Routes())
	return mux
}

func startServers(cfg *config.Config, obsSrv *http.Server, mainSrv *server.Server, log *zap.Logger) {
	go func() {
		log.Info("starting observability server", zap.String("addr", cfg.ObsHTTPAddr))
		if err := obsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("observability server error", zap.Error(err))
		}
	}()
	go func() {
		log.Info("starting main server", zap.String("addr", cfg.HTTPAddr))
		if err := mainSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()
}

func performGracefulShutdown(obsSrv *http.Server, mainSrv *server.Server, registry *relay.Registry, log *zap.Logger) {
	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mainSrv.Shutdown(ctx); err != nil {
		log.Error("error during main server shutdown", zap.Error(err))
	}
	if err := obsSrv.Shutdown(ctx); err != nil {
		log.Error("error during observability server shutdown", zap.Error(err))
	}
	registry.CloseAll()
	log.Info("shutdown complete, exiting")
}
