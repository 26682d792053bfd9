package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/rollups/api/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/api/v1/sources/{source}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/sources/{source}", "404")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sources/"+id, nil))
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestRecordQueryStatus(t *testing.T) {
	metrics.RecordClickHouseQuery(0, nil)
	metrics.RecordPostgresQuery(0, assert.AnError)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.ClickHouseQueryDuration))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.PostgresQueryDuration), 1)
}
