// Package cache owns the shared Redis client: response caching for the
// HTTP layer, the pub/sub channel carrying triggered-alert pushes, and
// the backing store for rate limiting and settings.
package cache

import (
	"context"
	"time"

	"wenmoon/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// RedisClient is shared with redis_rate and the settings store.
var RedisClient *redis.Client

var (
	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"endpoint", "instance"},
	)
	cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"endpoint", "instance"},
	)
)

func init() {
	prometheus.MustRegister(cacheHitsTotal)
	prometheus.MustRegister(cacheMissesTotal)
}

// InitRedis connects the shared client and verifies the connection.
// Call after the logger is up and before anything touches Redis.
func InitRedis(addr string) {
	RedisClient = redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if _, err := RedisClient.Ping(context.Background()).Result(); err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
}

// GetCache returns the cached response body for key, or empty on a miss.
// Hits and misses are counted per endpoint and instance.
func GetCache(ctx context.Context, key string, endpoint, instance string) (string, error) {
	val, err := RedisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		cacheMissesTotal.WithLabelValues(endpoint, instance).Inc()
		return "", nil
	}
	if err != nil {
		return "", err
	}
	cacheHitsTotal.WithLabelValues(endpoint, instance).Inc()
	return val, err
}

// SetCache stores a response body under key for ttl.
func SetCache(ctx context.Context, key, value string, ttl time.Duration, endpoint, instance string) error {
	return RedisClient.Set(ctx, key, value, ttl).Err()
}

// InvalidateByPrefix drops every cached entry under prefix. Invoked after
// writes that change what the cached responses would contain. Failures are
// logged, not returned: a stale entry expires on its TTL anyway.
func InvalidateByPrefix(ctx context.Context, prefix string, endpoint string, instance string) {
	tracer := otel.Tracer("wenmoon")
	ctx, span := tracer.Start(ctx, "InvalidateByPrefix")
	defer span.End()

	keys, err := keysByPrefix(ctx, prefix)
	if err != nil {
		logger.Log.Error("Failed to get cache keys for invalidation",
			zap.String("prefix", prefix),
			zap.String("endpoint", endpoint),
			zap.String("instance", instance),
			zap.Error(err),
		)
		return
	}

	invalidatedCount := 0
	for _, key := range keys {
		if err := RedisClient.Del(ctx, key).Err(); err != nil {
			logger.Log.Warn("Failed to invalidate cache key",
				zap.String("key", key),
				zap.String("prefix", prefix),
				zap.String("endpoint", endpoint),
				zap.String("instance", instance),
				zap.Error(err),
			)
		} else {
			invalidatedCount++
		}
	}

	logger.Log.Info("Cache invalidation completed",
		zap.String("prefix", prefix),
		zap.String("endpoint", endpoint),
		zap.String("instance", instance),
		zap.Int("invalidated_keys", invalidatedCount),
	)
}

// keysByPrefix walks SCAN until the cursor wraps, collecting every key
// under the prefix. SCAN instead of KEYS so invalidation never stalls
// Redis.
func keysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		foundKeys, nextCursor, err := RedisClient.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, foundKeys...)
		cursor = nextCursor
		if cursor == 0 {
			return keys, nil
		}
	}
}
