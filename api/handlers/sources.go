package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/rollups/api/store"
)

// SourceGetter looks up a single registry entry.
type SourceGetter interface {
	Get(ctx context.Context, id string) (*store.Source, error)
}

var sourceRegistry SourceGetter

// InitSources sets the registry used by GetSource.
func InitSources(registry SourceGetter) {
	sourceRegistry = registry
}

// GetSource returns the registry entry for {source}.
func GetSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	src, err := sourceRegistry.Get(ctx, id)
	if errors.Is(err, store.ErrSourceNotFound) {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}
	if err != nil {
		captureError(r, err)
		http.Error(w, internalError("Failed to fetch source", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, src)
}
