package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/rollups/api/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultSourceCacheTTL = time.Minute
	defaultRedisKeyPrefix = "rollups:sources:"
)

// SourceCache stores resolved source id lists by lookup key.
type SourceCache interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Set(ctx context.Context, key string, ids []string) error
}

type memoryEntry struct {
	ids     []string
	expires time.Time
}

// MemoryCache is a process-local SourceCache with per-entry expiry.
type MemoryCache struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryCache(clock clockwork.Clock, ttl time.Duration) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultSourceCacheTTL
	}
	return &MemoryCache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]string, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.clock.Now().Before(entry.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expires.Equal(entry.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return append([]string(nil), entry.ids...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{
		ids:     append([]string(nil), ids...),
		expires: c.clock.Now().Add(c.ttl),
	}
	return nil
}

// RedisCache is a SourceCache shared across API replicas. Values are JSON
// arrays so an empty match set is distinguishable from a miss.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultSourceCacheTTL
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: defaultRedisKeyPrefix,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read source cache: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, fmt.Errorf("failed to decode source cache entry: %w", err)
	}
	return ids, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode source cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write source cache: %w", err)
	}
	return nil
}

// CachedResolver fronts a SourceResolver with a SourceCache. Cache failures
// are logged and fall through to the resolver.
type CachedResolver struct {
	log      *slog.Logger
	resolver SourceResolver
	cache    SourceCache
}

func NewCachedResolver(log *slog.Logger, resolver SourceResolver, cache SourceCache) *CachedResolver {
	return &CachedResolver{
		log:      log,
		resolver: resolver,
		cache:    cache,
	}
}

func (r *CachedResolver) SourceIDsByAttribute(ctx context.Context, attribute, value string) ([]string, error) {
	key := attribute + "=" + value

	ids, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("source cache read failed", "error", err)
	}
	if ok {
		metrics.SourceCacheLookupsTotal.WithLabelValues("hit").Inc()
		return ids, nil
	}
	metrics.SourceCacheLookupsTotal.WithLabelValues("miss").Inc()

	ids, err = r.resolver.SourceIDsByAttribute(ctx, attribute, value)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, ids); err != nil {
		r.log.Warn("source cache write failed", "error", err)
	}
	return ids, nil
}
