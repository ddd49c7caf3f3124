// Package server wires the HTTP routes and middleware chain.
package server

import (
	"net/http"

	"github.com/rumor-ml/bankfeed/internal/handlers"
	"github.com/rumor-ml/bankfeed/internal/importer"
	"github.com/rumor-ml/bankfeed/internal/ingest"
	"github.com/rumor-ml/bankfeed/internal/middleware"
	"github.com/rumor-ml/bankfeed/internal/rules"
	"github.com/rumor-ml/bankfeed/internal/store"
)

// Server hosts the bankfeed API
type Server struct {
	mux *http.ServeMux
}

// New assembles the routes. Every account-scoped route sits behind
// bearer-token auth through the given verifier.
func New(st *store.Store, queue *ingest.Queue, registry *importer.Registry, engine *rules.Engine, verifier middleware.TokenVerifier) *Server {
	s := &Server{mux: http.NewServeMux()}
	s.setupRoutes(st, queue, registry, engine, verifier)
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(st *store.Store, queue *ingest.Queue, registry *importer.Registry, engine *rules.Engine, verifier middleware.TokenVerifier) {
	// Health check (no auth required)
	s.mux.HandleFunc("GET /health", handlers.HealthCheck)

	api := handlers.NewAPIHandler(st, queue, registry, engine)
	auth := middleware.NewAuthMiddleware(verifier)

	guard := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(h)
	}

	s.mux.Handle("POST /api/accounts/{id}/import", guard(api.Import))
	s.mux.Handle("POST /api/accounts/{id}/reprocess", guard(api.Reprocess))
	s.mux.Handle("GET /api/accounts/{id}/unprocessed", guard(api.Unprocessed))

	s.mux.Handle("GET /api/accounts/{id}/rules", guard(api.ListRules))
	s.mux.Handle("POST /api/accounts/{id}/rules", guard(api.CreateRule))
	s.mux.Handle("PUT /api/accounts/{id}/rules/{ruleID}", guard(api.UpdateRule))
	s.mux.Handle("DELETE /api/accounts/{id}/rules/{ruleID}", guard(api.DeleteRule))

	s.mux.Handle("GET /api/jobs/{id}", guard(api.JobStatus))
}

// Handler returns the HTTP handler with middleware applied
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.mux)
}
