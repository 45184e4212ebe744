package cache

import (
	"context"

	"wenmoon/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PublishMessage sends a payload to a Redis channel. The alert worker
// uses this to push triggered alerts toward the API's SSE fan-out.
func PublishMessage(ctx context.Context, channel, message string) error {
	return RedisClient.Publish(ctx, channel, message).Err()
}

// RedisSubscriber is one live subscription to a Redis channel.
type RedisSubscriber struct {
	pubsub *redis.PubSub
}

// NewRedisSubscriber subscribes to a channel and waits for the
// subscription confirmation before returning.
func NewRedisSubscriber(ctx context.Context, channel string) (*RedisSubscriber, error) {
	pubsub := RedisClient.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	logger.Log.Info("Subscribed to Redis channel", zap.String("channel", channel))
	return &RedisSubscriber{pubsub: pubsub}, nil
}

// ReceiveMessage blocks until the next message or ctx expires.
func (s *RedisSubscriber) ReceiveMessage(ctx context.Context) (*redis.Message, error) {
	return s.pubsub.ReceiveMessage(ctx)
}

// Close tears the subscription down.
func (s *RedisSubscriber) Close() error {
	return s.pubsub.Close()
}
