package aggregation

import (
	"context"
	"time"
)

// Row is one bucket of one series.
type Row struct {
	// Label is the source id, or the attribute value in by-attribute mode.
	Label     string
	Timestamp time.Time
	// Values holds one entry per field ordinal; nil means no data.
	Values []*float64
}

// Rows iterates an executed aggregation in output order.
type Rows interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// Store is the storage primitive that runs a built Query.
type Store interface {
	Aggregate(ctx context.Context, q Query) (Rows, error)
}

// Execute runs q against store. Any storage failure comes back as an
// *ExecutionError.
func Execute(ctx context.Context, store Store, q Query) (Rows, error) {
	rows, err := store.Aggregate(ctx, q)
	if err != nil {
		return nil, &ExecutionError{Err: err}
	}
	return rows, nil
}

// SliceRows is a Rows over an in-memory slice.
type SliceRows struct {
	rows []Row
	pos  int
}

// NewSliceRows returns a Rows yielding rows in order.
func NewSliceRows(rows []Row) *SliceRows {
	return &SliceRows{rows: rows}
}

func (s *SliceRows) Next() bool {
	if s.pos >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}

func (s *SliceRows) Row() Row {
	return s.rows[s.pos-1]
}

func (s *SliceRows) Err() error {
	return nil
}

func (s *SliceRows) Close() error {
	return nil
}
