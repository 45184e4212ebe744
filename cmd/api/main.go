package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"wenmoon/internal/alerts"
	"wenmoon/internal/auth"
	"wenmoon/internal/cache"
	"wenmoon/internal/config"
	"wenmoon/internal/database"
	"wenmoon/internal/handlers"
	"wenmoon/internal/logger"
	"wenmoon/internal/marketcache"
	"wenmoon/internal/marketdata"
	"wenmoon/internal/portfolio"
	"wenmoon/internal/roster"
	"wenmoon/internal/settings"
	"wenmoon/internal/tracing"

	"github.com/go-redis/redis_rate/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// cacheSweepInterval drives the periodic market data cache clear.
const cacheSweepInterval = 60 * time.Second

func main() {
	port := flag.String("port", "8081", "Port for the API service")
	instance := flag.String("instance", "api-1", "Instance ID for this server")
	flag.Parse()

	cfg := config.Load()

	logger.InitLogger()

	// Initialize Redis
	cache.InitRedis(cfg.RedisAddr)

	// Initialize database connection
	store, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		logger.Log.Fatal("Failed to migrate database", zap.Error(err))
	}

	shutdown, err := tracing.InitTracer("wenmoon-api")
	if err != nil {
		logger.Log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer", zap.Error(err))
		}
	}()

	settingsStore := settings.NewRedisStore(cache.RedisClient, "settings")
	if cfg.DeviceToken != "" {
		if err := settingsStore.Set(ctx, settings.KeyDeviceToken, cfg.DeviceToken); err != nil {
			logger.Log.Warn("Failed to cache device token", zap.Error(err))
		}
	}

	market := marketdata.NewClient(cfg.MarketDataBaseURL,
		marketdata.WithAPIKey(cfg.MarketDataAPIKey),
		marketdata.WithRateLimiter(redis_rate.NewLimiter(cache.RedisClient)),
	)
	marketCache := marketcache.New(market)
	chartCache := marketcache.NewChartCache(market)

	coins := roster.New(store, settingsStore, marketCache, roster.WithImageSource(market))
	if err := coins.Load(ctx); err != nil {
		logger.Log.Fatal("Failed to load coin roster", zap.Error(err))
	}
	if err := coins.Bootstrap(ctx, market); err != nil {
		logger.Log.Warn("Failed to bootstrap predefined coins", zap.Error(err))
	}

	reconciler := alerts.NewReconciler(
		alerts.NewClient(cfg.AlertBackendURL),
		auth.StaticProvider{UserID: cfg.UserID, Token: cfg.AuthToken},
		settingsStore,
	)

	// Initialize the SSE fan-out; incoming pushes also deactivate local alerts
	handlers.InitSSE(coins)

	// Roster changes invalidate the cached /coins responses. This covers
	// mutations that bypass the HTTP layer, such as push-driven alert
	// deactivation.
	go func() {
		changes := coins.Subscribe()
		for range changes {
			cache.InvalidateByPrefix(context.Background(), handlers.CoinsCachePrefix, "/coins", *instance)
		}
	}()

	// Periodic cache sweep: the caches react to an external tick rather
	// than scheduling themselves
	go func() {
		ticker := time.NewTicker(cacheSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			marketCache.Clear()
			chartCache.Clear()
		}
	}()

	api := &handlers.API{
		Roster:     coins,
		Portfolios: portfolio.NewService(store),
		Reconciler: reconciler,
		Market:     market,
		Charts:     chartCache,
		Instance:   *instance,
	}

	// Setup routes
	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	logger.Log.Info("API service starting on", zap.String("port", *port))
	log.Fatal(http.ListenAndServe(":"+*port, mux))
}
