package apitesting

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const redisPort = "6379/tcp"

// RedisDB represents a Redis test container.
type RedisDB struct {
	log       *slog.Logger
	addr      string
	container testcontainers.Container
}

// NewRedisDB starts a Redis testcontainer.
func NewRedisDB(ctx context.Context, log *slog.Logger) (*RedisDB, error) {
	var container testcontainers.Container
	err := retryContainerStart(func() error {
		var err error
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{redisPort},
				WaitingFor:   wait.ForListeningPort(redisPort),
			},
			Started: true,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container after retries: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, redisPort)
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis container mapped port: %w", err)
	}

	return &RedisDB{
		log:       log,
		addr:      fmt.Sprintf("%s:%s", host, mappedPort.Port()),
		container: container,
	}, nil
}

// Addr returns the Redis address (host:port).
func (db *RedisDB) Addr() string {
	return db.addr
}

// Close terminates the Redis container.
func (db *RedisDB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate Redis container", "error", err)
	}
}

// NewTestRedis returns a client with an empty keyspace. Tests sharing the
// container must not run in parallel.
func NewTestRedis(t *testing.T, db *RedisDB) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: db.addr})
	require.NoError(t, client.FlushDB(t.Context()).Err(), "failed to flush Redis")

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}
