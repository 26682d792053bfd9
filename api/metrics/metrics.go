package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollups_api_build_info",
			Help: "Build information of the rollups API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollups_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollups_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ClickHouseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollups_api_clickhouse_query_duration_seconds",
			Help:    "Duration of ClickHouse queries",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"status"},
	)

	PostgresQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollups_api_postgres_query_duration_seconds",
			Help:    "Duration of PostgreSQL queries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"status"},
	)

	AggregationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollups_api_aggregation_requests_total",
			Help: "Aggregation requests by output format and outcome",
		},
		[]string{"format", "outcome"},
	)

	SourceCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollups_api_source_cache_lookups_total",
			Help: "Source attribute cache lookups by result",
		},
		[]string{"result"},
	)
)

// Aggregation request outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordClickHouseQuery records the duration and status of a ClickHouse query.
func RecordClickHouseQuery(duration time.Duration, err error) {
	ClickHouseQueryDuration.WithLabelValues(status(err)).Observe(duration.Seconds())
}

// RecordPostgresQuery records the duration and status of a PostgreSQL query.
func RecordPostgresQuery(duration time.Duration, err error) {
	PostgresQueryDuration.WithLabelValues(status(err)).Observe(duration.Seconds())
}

// Middleware records request counts and durations labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
