package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	echoapi "github.com/autopost-hq/tokenvault/api/echo"
	"github.com/autopost-hq/tokenvault/cache"
	redisstate "github.com/autopost-hq/tokenvault/cache/redis"
	"github.com/autopost-hq/tokenvault/config"
	"github.com/autopost-hq/tokenvault/internal/crypto"
	"github.com/autopost-hq/tokenvault/internal/graph"
	"github.com/autopost-hq/tokenvault/internal/metrics"
	"github.com/autopost-hq/tokenvault/log"
	"github.com/autopost-hq/tokenvault/mongodb"
	"github.com/autopost-hq/tokenvault/services"
	"github.com/autopost-hq/tokenvault/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	appLogger.Info(ctx, "Starting tokenvault server", map[string]interface{}{
		"http_port":     cfg.HTTPPort,
		"mongo_db_name": cfg.MongoDBName,
		"log_level":     logLevel.String(),
		"otel_service":  cfg.OtelServiceName,
	})

	tracerProvider, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
	}

	if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
		appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", initErr)
	}
	db := mongodb.GetDB()

	credRepo, err := mongodb.NewCredentialRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize CredentialRepository", err)
	}

	codec := crypto.NewCodec(cfg.TokenEncryptionKey)
	graphClient := graph.NewClient(cfg.MetaAppID, cfg.MetaAppSecret, cfg.MetaRedirectURI, cfg.MetaGraphURL)

	store := services.NewTokenStore(credRepo, codec, graphClient, services.Options{
		TokenTTL:         cfg.TokenTTL(),
		RefreshWindow:    cfg.RefreshWindow(),
		InactivityWindow: cfg.InactivityWindow(),
	})

	// A Redis address switches the OAuth state store from in-process to
	// shared, so callbacks may land on any replica.
	var states cache.StateStore
	var memoryStates *cache.MemoryStateStore
	var redisClient *goredis.Client
	if cfg.RedisAddr != "" {
		redisClient = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		states = redisstate.NewStateStore(redisClient, "tokenvault")
		appLogger.Info(ctx, "Using Redis OAuth state store", map[string]interface{}{"addr": cfg.RedisAddr})
	} else {
		memoryStates = cache.NewMemoryStateStore()
		states = memoryStates
	}

	connectService := services.NewConnectService(store, graphClient, states, cfg.StateTTL())

	metrics.InitCustomMetrics(prometheus.DefaultRegisterer)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(echoapi.SecurityHeaders())

	api := echoapi.NewTokenAPI(store, connectService)
	api.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ready", func(c echo.Context) error {
		if err := mongodb.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(ctx, "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info(ctx, "Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
	}
	if memoryStates != nil {
		memoryStates.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			appLogger.Error(shutdownCtx, "Redis client close error", err)
		}
	}
	mongodb.CloseMongoDB(shutdownCtx)
	appLogger.Info(shutdownCtx, "Server gracefully stopped")
}
