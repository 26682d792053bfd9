package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/malbeclabs/rollups/api/aggregation"
	"github.com/malbeclabs/rollups/api/metrics"
)

// SourceResolver finds the sources whose registry attribute matches a value.
type SourceResolver interface {
	SourceIDsByAttribute(ctx context.Context, attribute, value string) ([]string, error)
}

type RollupStoreConfig struct {
	Logger     *slog.Logger
	ClickHouse driver.Conn
	Sources    SourceResolver
}

func (cfg *RollupStoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse connection is required")
	}
	if cfg.Sources == nil {
		return errors.New("source resolver is required")
	}
	return nil
}

// RollupStore runs built aggregation queries against the ClickHouse rollup
// table. It implements aggregation.Store.
type RollupStore struct {
	log *slog.Logger
	cfg RollupStoreConfig
}

func NewRollupStore(cfg RollupStoreConfig) (*RollupStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RollupStore{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Aggregate executes q. In by-attribute mode the attribute is first resolved
// to source ids through the registry; no matching sources yields an empty
// result without touching ClickHouse.
func (s *RollupStore) Aggregate(ctx context.Context, q aggregation.Query) (aggregation.Rows, error) {
	sources := q.Selection.Sources
	if q.Selection.Mode == aggregation.SelectByAttribute {
		ids, err := s.cfg.Sources.SourceIDsByAttribute(ctx, q.Selection.Attribute, q.Selection.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sources by %s: %w", q.Selection.Attribute, err)
		}
		if len(ids) == 0 {
			s.log.Debug("no sources match attribute", "attribute", q.Selection.Attribute)
			return aggregation.NewSliceRows(nil), nil
		}
		sources = ids
	}

	start := time.Now()
	rows, err := s.cfg.ClickHouse.Query(ctx, q.SQL(), q.Args(sources)...)
	duration := time.Since(start)
	metrics.RecordClickHouseQuery(duration, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}

	s.log.Debug("rollup query started",
		"sources", len(sources),
		"fields", q.Fields.Len(),
		"resolution", q.Resolution,
		"duration", duration)

	out, err := newRollupRows(rows, q.Fields)
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return out, nil
}

// rollupRows adapts driver.Rows to aggregation.Rows, scanning columns by
// name so the engine's column order does not matter.
type rollupRows struct {
	rows   driver.Rows
	dest   []any
	label  string
	bucket time.Time
	values []*float64
	row    aggregation.Row
	err    error
}

func newRollupRows(rows driver.Rows, fields aggregation.FieldMap) (*rollupRows, error) {
	r := &rollupRows{
		rows:   rows,
		values: make([]*float64, fields.Len()),
	}

	columns := rows.Columns()
	r.dest = make([]any, len(columns))
	seen := 0
	for i, col := range columns {
		switch col {
		case aggregation.LabelColumn:
			r.dest[i] = &r.label
		case aggregation.BucketColumn:
			r.dest[i] = &r.bucket
		default:
			ord, ok := fields.Ordinal(col)
			if !ok {
				return nil, fmt.Errorf("unexpected column %q in rollup result", col)
			}
			r.dest[i] = &r.values[ord]
			seen++
		}
	}
	if seen != fields.Len() {
		return nil, fmt.Errorf("rollup result has %d field columns, want %d", seen, fields.Len())
	}
	return r, nil
}

func (r *rollupRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	if err := r.rows.Scan(r.dest...); err != nil {
		r.err = fmt.Errorf("failed to scan rollup row: %w", err)
		return false
	}

	values := make([]*float64, len(r.values))
	for i, v := range r.values {
		if v != nil {
			val := *v
			values[i] = &val
		}
	}
	r.row = aggregation.Row{
		Label:     r.label,
		Timestamp: r.bucket.UTC(),
		Values:    values,
	}
	return true
}

func (r *rollupRows) Row() aggregation.Row {
	return r.row
}

func (r *rollupRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *rollupRows) Close() error {
	return r.rows.Close()
}
