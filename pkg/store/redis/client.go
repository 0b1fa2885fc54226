package redis

import (
	"context"
	"fmt"
	"time"

	"vpool/pkg/config"

	"github.com/go-redis/redis/v8"
)

const pingTimeout = 5 * time.Second

// RedisClient shared connection for the worker store, change feed and job locks
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects and pings; an unreachable server fails startup
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisClient{client: client}, nil
}

// NewRedisClientFromClient wraps an existing client
func NewRedisClientFromClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
