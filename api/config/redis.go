package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the optional shared cache client. Nil when REDIS_ADDR is unset.
var Redis *redis.Client

// LoadRedis connects to REDIS_ADDR if it is set
func LoadRedis() error {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	Redis = client
	slog.Info("connected to Redis", "addr", addr)
	return nil
}

// CloseRedis closes the Redis client if one was opened
func CloseRedis() error {
	if Redis != nil {
		return Redis.Close()
	}
	return nil
}

// SourceCacheTTL returns SOURCE_CACHE_TTL parsed as a duration, or def
func SourceCacheTTL(def time.Duration) time.Duration {
	raw := os.Getenv("SOURCE_CACHE_TTL")
	if raw == "" {
		return def
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		slog.Warn("ignoring invalid SOURCE_CACHE_TTL", "value", raw)
		return def
	}
	return ttl
}
