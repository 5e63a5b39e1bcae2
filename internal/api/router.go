package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/jobingest/internal/api/middleware"
	"github.com/kiranshivaraju/jobingest/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	TriggerImport http.HandlerFunc
	ImportStatus  http.HandlerFunc
	LastImport    http.HandlerFunc
	GetImport     http.HandlerFunc
	ListRuns      http.HandlerFunc
	QueueStats    http.HandlerFunc
	EventsHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Route("/api/v1/imports", func(r chi.Router) {
		r.With(deps.RateLimit.Limit).Post("/", orNotImplemented(deps.TriggerImport))
		r.Get("/status", orNotImplemented(deps.ImportStatus))
		r.Get("/last", orNotImplemented(deps.LastImport))
		r.Get("/runs", orNotImplemented(deps.ListRuns))
		r.Get("/{importID}", orNotImplemented(deps.GetImport))
	})

	r.Get("/api/v1/queue/stats", orNotImplemented(deps.QueueStats))
	r.Get("/api/v1/events", orNotImplemented(deps.EventsHandler))

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
