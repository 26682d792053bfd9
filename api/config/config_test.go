package config_test

import (
	"testing"
	"time"

	"github.com/malbeclabs/rollups/api/config"
	"github.com/stretchr/testify/assert"
)

func TestOptions(t *testing.T) {
	opts := config.Options(config.CHConfig{
		Addr:     "ch:9440",
		Database: "rollups",
		Username: "reader",
		Password: "secret",
		Secure:   true,
	})
	assert.Equal(t, []string{"ch:9440"}, opts.Addr)
	assert.Equal(t, "rollups", opts.Auth.Database)
	assert.Equal(t, "reader", opts.Auth.Username)
	assert.NotNil(t, opts.TLS)

	opts = config.Options(config.CHConfig{Addr: "localhost:9000"})
	assert.Nil(t, opts.TLS)
}

func TestSourceCacheTTL(t *testing.T) {
	t.Setenv("SOURCE_CACHE_TTL", "")
	assert.Equal(t, time.Minute, config.SourceCacheTTL(time.Minute))

	t.Setenv("SOURCE_CACHE_TTL", "30s")
	assert.Equal(t, 30*time.Second, config.SourceCacheTTL(time.Minute))

	t.Setenv("SOURCE_CACHE_TTL", "soon")
	assert.Equal(t, time.Minute, config.SourceCacheTTL(time.Minute))

	t.Setenv("SOURCE_CACHE_TTL", "-5s")
	assert.Equal(t, time.Minute, config.SourceCacheTTL(time.Minute))
}

func TestPostgresURL(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://u:p@db:5432/x")
	assert.Equal(t, "postgres://u:p@db:5432/x", config.PostgresURL())
}

func TestLoadRedis_DisabledWithoutAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	assert.NoError(t, config.LoadRedis())
	assert.Nil(t, config.Redis)
}
