package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/malbeclabs/rollups/api/aggregation"
	"github.com/malbeclabs/rollups/api/metrics"
)

// aggregationStore runs built queries. Set once at startup by InitAggregations.
var aggregationStore aggregation.Store

// InitAggregations sets the store used by GetAggregations.
func InitAggregations(store aggregation.Store) {
	aggregationStore = store
}

// GetAggregations serves /api/v1/aggregations and /api/v1/aggregations.{format}.
func GetAggregations(w http.ResponseWriter, r *http.Request) {
	req, err := aggregation.Parse(r.URL.Query(), chi.URLParam(r, "format"))
	if err != nil {
		var verr *aggregation.ValidationError
		if errors.As(err, &verr) {
			metrics.AggregationRequestsTotal.WithLabelValues(formatLabel(r), metrics.OutcomeInvalid).Inc()
			writeJSON(w, http.StatusBadRequest, verr)
			return
		}
		aggregationFailed(w, r, string(aggregation.FormatJSON), err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	rows, err := aggregation.Execute(ctx, aggregationStore, aggregation.Build(req))
	if err != nil {
		aggregationFailed(w, r, string(req.Format), err)
		return
	}
	defer rows.Close()

	renderer := aggregation.NewRenderer(req.Format, requestURL(r))
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	ww.Header().Set("Content-Type", renderer.ContentType())

	if err := renderer.Render(ww, req, rows); err != nil {
		if ww.Status() == 0 && ww.BytesWritten() == 0 {
			aggregationFailed(w, r, string(req.Format), err)
			return
		}
		// Headers are gone; the truncated body is all the client gets.
		metrics.AggregationRequestsTotal.WithLabelValues(string(req.Format), metrics.OutcomeError).Inc()
		captureError(r, err)
		slog.Error("aggregation stream aborted", "error", err, "bytes", ww.BytesWritten())
		return
	}

	metrics.AggregationRequestsTotal.WithLabelValues(string(req.Format), metrics.OutcomeOK).Inc()
}

func aggregationFailed(w http.ResponseWriter, r *http.Request, format string, err error) {
	metrics.AggregationRequestsTotal.WithLabelValues(format, metrics.OutcomeError).Inc()
	captureError(r, err)
	http.Error(w, internalError("Failed to run aggregation", err), http.StatusInternalServerError)
}

// formatLabel keeps metric cardinality bounded for requests that failed validation.
func formatLabel(r *http.Request) string {
	f := chi.URLParam(r, "format")
	if f == "" {
		f = r.URL.Query().Get(aggregation.ParamFormat)
	}
	switch aggregation.Format(f) {
	case aggregation.FormatCSV:
		return string(aggregation.FormatCSV)
	case aggregation.FormatJSON, "":
		return string(aggregation.FormatJSON)
	default:
		return "unknown"
	}
}

// requestURL reconstructs the absolute URL the client used, honoring a TLS
// terminating proxy.
func requestURL(r *http.Request) *url.URL {
	u := *r.URL
	u.Host = r.Host
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		u.Scheme = proto
	}
	return &u
}

func captureError(r *http.Request, err error) {
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
