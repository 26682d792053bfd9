package apitesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/rollups/api/config"
	apidb "github.com/malbeclabs/rollups/api/db"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresDBConfig holds the PostgreSQL test container configuration.
type PostgresDBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *PostgresDBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "postgres"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// PostgresDB represents a PostgreSQL test container.
type PostgresDB struct {
	log       *slog.Logger
	cfg       *PostgresDBConfig
	host      string
	port      string
	container *tcpostgres.PostgresContainer
}

// NewPostgresDB creates a new PostgreSQL testcontainer.
func NewPostgresDB(ctx context.Context, log *slog.Logger, cfg *PostgresDBConfig) (*PostgresDB, error) {
	if cfg == nil {
		cfg = &PostgresDBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate PostgreSQL DB config: %w", err)
	}

	var container *tcpostgres.PostgresContainer
	err := retryContainerStart(func() error {
		var err error
		container, err = tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			tcpostgres.BasicWaitStrategies(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container after retries: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get PostgreSQL container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return nil, fmt.Errorf("failed to get PostgreSQL container mapped port: %w", err)
	}

	return &PostgresDB{
		log:       log,
		cfg:       cfg,
		host:      host,
		port:      mappedPort.Port(),
		container: container,
	}, nil
}

// URL returns a connection string for database on this container.
func (db *PostgresDB) URL(database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		db.cfg.Username, db.cfg.Password, db.host, db.port, database)
}

// Close terminates the PostgreSQL container.
func (db *PostgresDB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate PostgreSQL container", "error", err)
	}
}

// NewTestPostgres creates a migrated database unique to t and returns a pool
// connected to it.
func NewTestPostgres(t *testing.T, db *PostgresDB) *pgxpool.Pool {
	ctx := t.Context()

	randomSuffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	databaseName := fmt.Sprintf("test_%s", randomSuffix)

	admin, err := pgxpool.New(ctx, db.URL(db.cfg.Database))
	require.NoError(t, err, "failed to create PostgreSQL admin pool")

	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", databaseName))
	require.NoError(t, err, "failed to create test database")

	url := db.URL(databaseName)
	require.NoError(t, apidb.MigratePostgres(ctx, db.log, url), "failed to migrate test database")

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err, "failed to create PostgreSQL test pool")

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", databaseName))
		admin.Close()
	})

	return pool
}

// SetupTestPostgres is NewTestPostgres plus swapping config.PgPool for the
// duration of the test.
func SetupTestPostgres(t *testing.T, db *PostgresDB) *pgxpool.Pool {
	pool := NewTestPostgres(t, db)

	oldPool := config.PgPool
	config.PgPool = pool
	t.Cleanup(func() {
		config.PgPool = oldPool
	})
	return pool
}
