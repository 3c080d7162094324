package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/engramdev/engram/internal/engine"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(svc *engine.Service, apiKey string, gatherer prometheus.Gatherer, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	conversationH := NewConversationHandler(svc)
	patternH := NewPatternHandler(svc)
	routingH := NewRoutingHandler(svc)
	anomalyH := NewAnomalyHandler(svc)
	healthH := NewHealthHandler(svc)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)
	if gatherer != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationH.Add)
			r.Get("/recent", conversationH.Recent)
			r.Get("/search", conversationH.Search)
			r.Get("/{id}", conversationH.Get)
			r.Post("/{id}/messages", conversationH.AppendMessage)
			r.Post("/{id}/complete", conversationH.Complete)
		})

		r.Route("/patterns", func(r chi.Router) {
			r.Post("/observe", patternH.Observe)
			r.Get("/search", patternH.Search)
			r.Get("/stats", patternH.Stats)
			r.Post("/decay", patternH.Decay)
			r.Get("/{id}", patternH.Get)
			r.Post("/{id}/outcome", patternH.Outcome)
			r.Post("/{id}/relate/{targetID}", patternH.Relate)
		})

		r.Post("/relationships/observe", patternH.ObserveRelationship)
		r.Get("/relationships", patternH.ListRelationships)
		r.Post("/intents/observe", patternH.ObserveIntent)
		r.Post("/corrections", patternH.RecordCorrection)

		r.Post("/routing/evaluate", routingH.Evaluate)

		r.Route("/anomalies", func(r chi.Router) {
			r.Get("/", anomalyH.List)
			r.Get("/stats", anomalyH.Stats)
			r.Post("/{id}/review", anomalyH.Review)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/guards", healthH.Guards)
			r.Post("/guards/{store}/clear-halt", healthH.ClearHalt)
		})
	})

	return r
}
