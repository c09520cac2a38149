package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	redisdriver "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	echoapi "github.com/genauth-dev/genauth/api/echo"
	"github.com/genauth-dev/genauth/cache"
	redisstore "github.com/genauth-dev/genauth/cache/redis"
	"github.com/genauth-dev/genauth/config"
	"github.com/genauth-dev/genauth/domain"
	"github.com/genauth-dev/genauth/log"
	"github.com/genauth-dev/genauth/mongodb"
	"github.com/genauth-dev/genauth/services"
	"github.com/genauth-dev/genauth/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	appLogger.Info(ctx, "Starting genauth server", map[string]interface{}{
		"http_addr":       cfg.HTTPAddr,
		"storage_backend": cfg.StorageBackend,
		"device_code_ttl": cfg.DeviceCodeTTL.String(),
		"poll_interval":   cfg.PollInterval.String(),
	})

	tp, err := tracing.InitTracerProvider("genauth-server")
	if err != nil {
		appLogger.Error(ctx, "Failed to initialize TracerProvider", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			appLogger.Warn(ctx, "Error shutting down TracerProvider", map[string]interface{}{"error": shutdownErr.Error()})
		}
	}()

	deviceRepo, userRepo, sessionRepo, healthCheck, err := buildRepositories(ctx, cfg)
	if err != nil {
		appLogger.Error(ctx, "Failed to initialize storage backend", err)
		os.Exit(1)
	}

	tokenService := services.NewTokenService(userRepo, sessionRepo, cfg.SessionTokenTTL, appLogger)
	flowService := services.NewDeviceFlowService(
		deviceRepo,
		tokenService,
		cfg.DeviceCodeTTL,
		cfg.PollInterval,
		cfg.DefaultScope,
		cfg.BaseURL,
		appLogger,
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	deviceAPI := echoapi.NewDeviceAuthAPI(flowService, tokenService, healthCheck)
	deviceAPI.RegisterRoutes(e)

	// Janitor: lazily evaluated expiry keeps reads correct, this just prunes.
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go runJanitor(janitorCtx, flowService, cfg.JanitorInterval, appLogger)

	go func() {
		if serveErr := e.Start(cfg.HTTPAddr); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			appLogger.Error(ctx, "HTTP server stopped unexpectedly", serveErr)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info(ctx, "Shutting down genauth server")
	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown failed", err)
	}
	if cfg.StorageBackend == config.StorageTypeMongoDB {
		if err := mongodb.Disconnect(shutdownCtx); err != nil {
			appLogger.Warn(shutdownCtx, "MongoDB disconnect failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// buildRepositories wires the configured storage backend. User and session
// records stay in memory for the redis backend; only device sessions need the
// shared store there.
func buildRepositories(ctx context.Context, cfg config.Config) (
	domain.DeviceAuthorizationRepository,
	domain.UserRepository,
	domain.SessionRepository,
	func(ctx context.Context) error,
	error,
) {
	switch cfg.StorageBackend {
	case config.StorageTypeMongoDB:
		if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			return nil, nil, nil, nil, err
		}
		db := mongodb.GetDB()

		deviceRepo, err := mongodb.NewDeviceAuthRepository(ctx, db)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		userRepo, err := mongodb.NewUserRepository(ctx, db)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		sessionRepo, err := mongodb.NewSessionRepository(ctx, db, userRepo)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return deviceRepo, userRepo, sessionRepo, mongodb.Ping, nil

	case config.StorageTypeRedis:
		client := redisdriver.NewClient(&redisdriver.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, nil, err
		}
		deviceRepo := redisstore.NewDeviceStore(client, "genauth")
		userRepo := cache.NewMemoryUserStore()
		sessionRepo := cache.NewMemorySessionStore(userRepo)
		healthCheck := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return deviceRepo, userRepo, sessionRepo, healthCheck, nil

	case config.StorageTypeMemory:
		userRepo := cache.NewMemoryUserStore()
		return cache.NewMemoryDeviceStore(), userRepo, cache.NewMemorySessionStore(userRepo), nil, nil

	default:
		return nil, nil, nil, nil, errors.New("unknown storage backend: " + string(cfg.StorageBackend))
	}
}

// runJanitor prunes expired device sessions on a ticker until ctx is canceled.
func runJanitor(ctx context.Context, flowService *services.DeviceFlowService, interval time.Duration, logger log.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := flowService.CleanupExpired(ctx); err != nil {
				logger.Warn(ctx, "Failed to prune expired device sessions", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
