package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AlertQueueKey is the list consumers pop alerts from
const AlertQueueKey = "chainwatch:alerts"

// RedisDispatcher pushes alerts onto a Redis list for the messaging front-end
type RedisDispatcher struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// NewRedisDispatcher connects to redisURL and checks the connection
func NewRedisDispatcher(redisURL string, logger zerolog.Logger) (*RedisDispatcher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_addr", opt.Addr).Msg("Connected to Redis successfully")

	return &RedisDispatcher{
		client: client,
		key:    AlertQueueKey,
		logger: logger.With().Str("component", "notify_redis").Logger(),
	}, nil
}

func (d *RedisDispatcher) Deliver(ctx context.Context, destination, text string) error {
	payload, err := json.Marshal(Message{
		Destination: destination,
		Text:        text,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	if err := d.client.RPush(ctx, d.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push alert to queue: %w", err)
	}

	d.logger.Debug().Str("destination", destination).Msg("Pushed alert to queue")
	return nil
}

// QueueLength returns the number of alerts waiting for a consumer
func (d *RedisDispatcher) QueueLength(ctx context.Context) (int64, error) {
	length, err := d.client.LLen(ctx, d.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return length, nil
}

// Close closes the Redis connection
func (d *RedisDispatcher) Close() error {
	return d.client.Close()
}
