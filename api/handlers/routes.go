package handlers

import "github.com/go-chi/chi/v5"

// Routes mounts the public API on r.
func Routes(r chi.Router) {
	r.Get("/", GetPing)
	r.Get("/healthz", GetHealthz)
	r.Get("/readyz", GetReadyz)
	r.Get("/api/version", GetVersion)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/aggregations", GetAggregations)
		r.Get("/aggregations.{format}", GetAggregations)
		r.Get("/sources/{source}", GetSource)
	})
}
