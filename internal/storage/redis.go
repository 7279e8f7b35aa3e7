package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// latestKey holds the summary of the most recent run for late subscribers
const latestKey = "threatdna:runs:latest"

// RedisClient publishes run messages on a Redis pub/sub channel
type RedisClient struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
}

func NewRedisClient(ctx context.Context, addr, password string, db int, channel string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client:  client,
		channel: channel,
		ttl:     time.Hour,
	}, nil
}

func (r *RedisClient) Name() string { return "redis" }

// Publish sends every message in one pipeline and refreshes the latest-run key
func (r *RedisClient) Publish(ctx context.Context, msgs []Message) error {
	pipe := r.client.Pipeline()

	for _, m := range msgs {
		data, err := encode(m)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, r.channel, data)
		if m.Type == MessageRun {
			pipe.Set(ctx, latestKey, data, r.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", r.channel, err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
