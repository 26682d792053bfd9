package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DB is the global ClickHouse connection pool
var DB driver.Conn

// CHConfig holds the ClickHouse configuration
type CHConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool
}

// cfg holds the parsed configuration
var cfg CHConfig

// ClickHouse returns the parsed ClickHouse configuration
func ClickHouse() CHConfig {
	return cfg
}

// Database returns the configured database name
func Database() string {
	return cfg.Database
}

// SetDatabase sets the configured database name (for testing)
func SetDatabase(db string) {
	cfg.Database = db
}

// Load reads the ClickHouse settings from the environment and opens the connection pool
func Load() error {
	cfg.Addr = envOr("CLICKHOUSE_ADDR_TCP", "localhost:9000")
	cfg.Database = envOr("CLICKHOUSE_DATABASE", "default")
	cfg.Username = envOr("CLICKHOUSE_USERNAME", "default")
	cfg.Password = os.Getenv("CLICKHOUSE_PASSWORD")
	cfg.Secure = os.Getenv("CLICKHOUSE_SECURE") == "true"

	slog.Info("connecting to ClickHouse", "addr", cfg.Addr, "database", cfg.Database, "username", cfg.Username, "secure", cfg.Secure)

	conn, err := clickhouse.Open(Options(cfg))
	if err != nil {
		return fmt.Errorf("failed to create clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	DB = conn
	slog.Info("connected to ClickHouse")

	return nil
}

// Options builds driver options for c
func Options(c CHConfig) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{c.Addr},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}

	// ClickHouse Cloud (port 9440)
	if c.Secure {
		opts.TLS = &tls.Config{}
	}
	return opts
}

// Close closes the ClickHouse connection pool
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
