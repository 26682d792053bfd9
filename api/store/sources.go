package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/rollups/api/metrics"
)

// ErrSourceNotFound is returned when a source id is not in the registry.
var ErrSourceNotFound = errors.New("source not found")

// Source is a registry entry: an id plus free-form JSON attributes.
type Source struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

type SourceRegistryConfig struct {
	Logger   *slog.Logger
	Postgres *pgxpool.Pool
}

func (cfg *SourceRegistryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Postgres == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// SourceRegistry reads source metadata from the PostgreSQL sources table.
type SourceRegistry struct {
	log *slog.Logger
	cfg SourceRegistryConfig
}

func NewSourceRegistry(cfg SourceRegistryConfig) (*SourceRegistry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SourceRegistry{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// SourceIDsByAttribute returns the ids of sources whose data attribute equals
// value, ordered by id. Both attribute and value are bound as parameters.
func (r *SourceRegistry) SourceIDsByAttribute(ctx context.Context, attribute, value string) ([]string, error) {
	query := `
		SELECT id
		FROM sources
		WHERE data->>$1 = $2
		ORDER BY id
	`

	start := time.Now()
	rows, err := r.cfg.Postgres.Query(ctx, query, attribute, value)
	if err != nil {
		metrics.RecordPostgresQuery(time.Since(start), err)
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	metrics.RecordPostgresQuery(time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read source ids: %w", err)
	}

	r.log.Debug("resolved sources by attribute", "attribute", attribute, "count", len(ids))
	return ids, nil
}

// Get returns a single source by id.
func (r *SourceRegistry) Get(ctx context.Context, id string) (*Source, error) {
	query := `SELECT id, data FROM sources WHERE id = $1`

	var (
		src Source
		raw []byte
	)
	start := time.Now()
	err := r.cfg.Postgres.QueryRow(ctx, query, id).Scan(&src.ID, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.RecordPostgresQuery(time.Since(start), nil)
		return nil, ErrSourceNotFound
	}
	metrics.RecordPostgresQuery(time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query source: %w", err)
	}

	src.Data = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &src.Data); err != nil {
			return nil, fmt.Errorf("failed to decode source data: %w", err)
		}
	}
	return &src, nil
}
