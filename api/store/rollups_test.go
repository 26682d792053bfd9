package store_test

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/malbeclabs/rollups/api/aggregation"
	"github.com/malbeclabs/rollups/api/store"
	apitesting "github.com/malbeclabs/rollups/api/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rollup struct {
	source string
	field  string
	ts     time.Time
	sum    float64
	count  uint64
	min    float64
	max    float64
}

// staticResolver returns a fixed id list and counts calls.
type staticResolver struct {
	ids   []string
	err   error
	calls int
}

func (r *staticResolver) SourceIDsByAttribute(_ context.Context, _, _ string) ([]string, error) {
	r.calls++
	return r.ids, r.err
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testChDBConn(t *testing.T) driver.Conn {
	return apitesting.NewTestClickHouse(t, testChDB)
}

func insertRollups(t *testing.T, conn driver.Conn, rows []rollup) {
	t.Helper()
	batch, err := conn.PrepareBatch(t.Context(), "INSERT INTO rollup_5min")
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, batch.Append(r.source, r.field, r.ts, r.sum, r.count, r.min, r.max))
	}
	require.NoError(t, batch.Send())
}

func seedRollups(t *testing.T, conn driver.Conn) {
	insertRollups(t, conn, []rollup{
		{"s1", "temp", t0, 10, 2, 4, 6},
		{"s1", "temp", t0.Add(5 * time.Minute), 20, 2, 9, 11},
		{"s1", "hum", t0, 50, 1, 50, 50},
		{"s1", "temp", t0.Add(10 * time.Minute), 8, 1, 8, 8},
		{"s2", "temp", t0, 3, 1, 3, 3},
		{"s3", "temp", t0, 100, 1, 100, 100},
		// outside the window
		{"s1", "temp", t0.Add(-5 * time.Minute), 1000, 1, 1000, 1000},
		{"s1", "temp", t0.Add(20 * time.Minute), 1000, 1, 1000, 1000},
	})
}

func parse(t *testing.T, params url.Values) aggregation.Request {
	t.Helper()
	req, err := aggregation.Parse(params, "")
	require.NoError(t, err)
	return req
}

func baseParams() url.Values {
	return url.Values{
		"fields":     {"temp,hum"},
		"resolution": {"10m"},
		"from":       {"2024-01-01T00:00:00Z"},
		"before":     {"2024-01-01T00:20:00Z"},
	}
}

func newRollupStore(t *testing.T, conn driver.Conn, resolver store.SourceResolver) *store.RollupStore {
	t.Helper()
	if resolver == nil {
		resolver = &staticResolver{}
	}
	s, err := store.NewRollupStore(store.RollupStoreConfig{
		Logger:     slog.Default(),
		ClickHouse: conn,
		Sources:    resolver,
	})
	require.NoError(t, err)
	return s
}

func collect(t *testing.T, rows aggregation.Rows) []aggregation.Row {
	t.Helper()
	defer rows.Close()
	var out []aggregation.Row
	for rows.Next() {
		out = append(out, rows.Row())
	}
	require.NoError(t, rows.Err())
	return out
}

func value(t *testing.T, v *float64) float64 {
	t.Helper()
	require.NotNil(t, v)
	return *v
}

func TestRollupStoreConfig_Validate(t *testing.T) {
	_, err := store.NewRollupStore(store.RollupStoreConfig{})
	require.Error(t, err)

	_, err = store.NewRollupStore(store.RollupStoreConfig{Logger: slog.Default()})
	require.Error(t, err)
}

func TestRollupStore_ExplicitSourcesMean(t *testing.T) {
	conn := testChDBConn(t)
	seedRollups(t, conn)
	s := newRollupStore(t, conn, nil)

	params := baseParams()
	params.Set("each.sources", "s2,s1")
	req := parse(t, params)

	rows, err := aggregation.Execute(t.Context(), s, aggregation.Build(req))
	require.NoError(t, err)
	got := collect(t, rows)

	require.Len(t, got, 3)

	// Request order: s2 before s1, then by bucket.
	assert.Equal(t, "s2", got[0].Label)
	assert.Equal(t, t0, got[0].Timestamp)
	assert.Equal(t, 3.0, value(t, got[0].Values[0]))
	assert.Nil(t, got[0].Values[1])

	assert.Equal(t, "s1", got[1].Label)
	assert.Equal(t, t0, got[1].Timestamp)
	assert.Equal(t, 7.5, value(t, got[1].Values[0]))
	assert.Equal(t, 50.0, value(t, got[1].Values[1]))

	assert.Equal(t, "s1", got[2].Label)
	assert.Equal(t, t0.Add(10*time.Minute), got[2].Timestamp)
	assert.Equal(t, 8.0, value(t, got[2].Values[0]))
	assert.Nil(t, got[2].Values[1])
}

func TestRollupStore_MaxAndMin(t *testing.T) {
	conn := testChDBConn(t)
	seedRollups(t, conn)
	s := newRollupStore(t, conn, nil)

	for _, tc := range []struct {
		op   string
		want float64
	}{
		{"max", 11},
		{"min", 4},
	} {
		t.Run(tc.op, func(t *testing.T) {
			params := baseParams()
			params.Set("each.sources", "s1")
			params.Set("fields", "temp")
			params.Set("op", tc.op)

			rows, err := aggregation.Execute(t.Context(), s, aggregation.Build(parse(t, params)))
			require.NoError(t, err)
			got := collect(t, rows)
			require.Len(t, got, 2)
			assert.Equal(t, tc.want, value(t, got[0].Values[0]))
		})
	}
}

func TestRollupStore_FieldOrderFollowsRequest(t *testing.T) {
	conn := testChDBConn(t)
	seedRollups(t, conn)
	s := newRollupStore(t, conn, nil)

	params := baseParams()
	params.Set("each.sources", "s1")
	params.Set("fields", "hum,temp")

	rows, err := aggregation.Execute(t.Context(), s, aggregation.Build(parse(t, params)))
	require.NoError(t, err)
	got := collect(t, rows)
	require.NotEmpty(t, got)
	assert.Equal(t, 50.0, value(t, got[0].Values[0]))
	assert.Equal(t, 7.5, value(t, got[0].Values[1]))
}

func TestRollupStore_ByAttribute(t *testing.T) {
	conn := testChDBConn(t)
	seedRollups(t, conn)
	resolver := &staticResolver{ids: []string{"s1", "s2"}}
	s := newRollupStore(t, conn, resolver)

	params := baseParams()
	params.Set("over.city", "Detroit")
	params.Set("fields", "temp")

	rows, err := aggregation.Execute(t.Context(), s, aggregation.Build(parse(t, params)))
	require.NoError(t, err)
	got := collect(t, rows)

	require.Len(t, got, 2)
	assert.Equal(t, 1, resolver.calls)
	for _, row := range got {
		assert.Equal(t, "Detroit", row.Label)
	}
	// (10 + 20 + 3) / (2 + 2 + 1)
	assert.Equal(t, t0, got[0].Timestamp)
	assert.InDelta(t, 6.6, value(t, got[0].Values[0]), 1e-9)
	assert.Equal(t, 8.0, value(t, got[1].Values[0]))
}

func TestRollupStore_ByAttributeNoMatches(t *testing.T) {
	s := newRollupStore(t, testChDBConn(t), &staticResolver{})

	params := baseParams()
	params.Set("over.city", "Nowhere")

	rows, err := aggregation.Execute(t.Context(), s, aggregation.Build(parse(t, params)))
	require.NoError(t, err)
	assert.Empty(t, collect(t, rows))
}

func TestRollupStore_ResolverErrorIsExecutionError(t *testing.T) {
	s := newRollupStore(t, testChDBConn(t), &staticResolver{err: errors.New("registry down")})

	params := baseParams()
	params.Set("over.city", "Detroit")

	_, err := aggregation.Execute(t.Context(), s, aggregation.Build(parse(t, params)))
	var execErr *aggregation.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Error(), "registry down")
}

func TestRollupStore_HostileValuesAreData(t *testing.T) {
	conn := testChDBConn(t)
	evil := `x'); DROP TABLE rollup_5min; --`
	insertRollups(t, conn, []rollup{
		{evil, evil, t0, 4, 2, 1, 3},
	})
	s := newRollupStore(t, conn, nil)

	params := baseParams()
	params.Set("each.sources", evil)
	params.Set("fields", evil)

	rows, err := aggregation.Execute(t.Context(), s, aggregation.Build(parse(t, params)))
	require.NoError(t, err)
	got := collect(t, rows)
	require.Len(t, got, 1)
	assert.Equal(t, evil, got[0].Label)
	assert.Equal(t, 2.0, value(t, got[0].Values[0]))

	var n uint64
	require.NoError(t, conn.QueryRow(t.Context(), "SELECT count() FROM rollup_5min").Scan(&n))
	assert.Equal(t, uint64(1), n)
}

func TestRollupStore_EmptyWindow(t *testing.T) {
	conn := testChDBConn(t)
	seedRollups(t, conn)
	s := newRollupStore(t, conn, nil)

	params := baseParams()
	params.Set("each.sources", "s1")
	params.Set("from", "2025-01-01T00:00:00Z")
	params.Set("before", "2025-01-01T01:00:00Z")

	rows, err := aggregation.Execute(t.Context(), s, aggregation.Build(parse(t, params)))
	require.NoError(t, err)
	assert.Empty(t, collect(t, rows))
}
