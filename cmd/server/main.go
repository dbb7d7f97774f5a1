package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AnshRaj112/circles-backend/internal/config"
	"github.com/AnshRaj112/circles-backend/internal/database"
	"github.com/AnshRaj112/circles-backend/internal/handlers"
	"github.com/AnshRaj112/circles-backend/internal/metrics"
	"github.com/AnshRaj112/circles-backend/internal/middleware"
	"github.com/AnshRaj112/circles-backend/internal/routes"
	"github.com/AnshRaj112/circles-backend/internal/services"
	"github.com/AnshRaj112/circles-backend/pkg/log"
)

const (
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.L().Debug().Msg("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.L().Fatal().Err(err).Msg("invalid configuration")
	}
	log.Init(log.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, ServiceName: "circles"})
	logger := log.L()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	logger.Info().Msg("connecting to PostgreSQL")
	pg, err := database.ConnectPostgres(ctx, cfg.PostgresURI)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	if err := database.InitPostgresTables(ctx, pg); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL tables")
	}

	logger.Info().Msg("connecting to Redis")
	rdb, err := database.ConnectRedis(ctx, cfg.RedisURI)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}

	logger.Info().Str("database", cfg.MongoDatabase).Msg("connecting to MongoDB")
	mongo, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}

	messages := services.NewMongoMessageStore(mongo.DB)
	if err := messages.EnsureIndexes(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to ensure MongoDB chat indexes")
	}

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		gatherer = prometheus.DefaultGatherer
	}

	accounts := services.NewPostgresAccountStore(pg)
	sessions := services.NewRedisSessionStore(rdb, cfg.SessionTTL)
	cache := services.NewRedisHistoryCache(rdb, cfg.HistoryCacheTTL)

	registry := services.NewConnectionRegistry()
	router := services.NewBroadcastRouter(registry, m)
	lifecycle := services.NewMessageLifecycle(messages, accounts, cache, router, registry, m, services.LifecycleConfig{
		DeliveryMode:     cfg.DeliveryMode,
		MaxContentLength: cfg.MaxContentLength,
	})
	protocol := services.NewProtocolHandler(registry, services.NewTypingTracker(), router, lifecycle, accounts, m, services.ProtocolConfig{
		PresenceMode: cfg.PresenceMode,
		MessageRate:  cfg.MessageRate,
		MessageBurst: cfg.MessageBurst,
	})
	auth := services.NewAuthService(accounts, sessions)
	history := services.NewHistoryService(messages, accounts, cache, registry)

	mux := routes.NewRouter(routes.Deps{
		Logger:          *logger,
		AllowedOrigins:  cfg.AllowedOrigins,
		Production:      cfg.IsProduction(),
		RateLimiter:     middleware.NewRedisRateLimiter(rdb, cfg.HTTPRateLimit, cfg.HTTPRateWindow),
		AuthRateLimiter: middleware.NewAuthRateLimiter(),
		Gatherer:        gatherer,
		Auth:            handlers.NewAuthHandler(auth),
		Users:           handlers.NewUsersHandler(history),
		History:         handlers.NewChatHistoryHandler(history),
		Chat: handlers.NewChatWSHandler(protocol, auth, handlers.WSConfig{
			SendBuffer:      cfg.WSSendBuffer,
			MaxMessageBytes: cfg.WSMaxMessageBytes,
			PingPeriod:      cfg.WSPingPeriod,
			PongWait:        cfg.WSPongWait,
			WriteWait:       cfg.WSWriteWait,
			RequireSession:  cfg.RequireWSSession,
			AllowedOrigins:  cfg.AllowedOrigins,
		}),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Environment).
			Str("presence_mode", string(cfg.PresenceMode)).
			Str("delivery_mode", string(cfg.DeliveryMode)).
			Strs("allowed_origins", cfg.AllowedOrigins).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	registry.CloseAll()
	waitForDrain(shutdownCtx, registry)

	if err := mongo.Disconnect(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("mongo disconnect")
	}
	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close")
	}
	if err := pg.Close(); err != nil {
		logger.Error().Err(err).Msg("postgres close")
	}
	logger.Info().Msg("server stopped")
}

// waitForDrain gives the read pumps time to run their disconnect path, which
// persists offline presence, before the stores go away.
func waitForDrain(ctx context.Context, registry *services.ConnectionRegistry) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for registry.Len() > 0 {
		select {
		case <-ctx.Done():
			log.L().Warn().Int("connections", registry.Len()).Msg("connections still open at shutdown")
			return
		case <-ticker.C:
		}
	}
}
