// Package server implements the docstage HTTP server and route multiplexer.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docstage/docstage/internal/config"
	"github.com/docstage/docstage/internal/handlers"
	"github.com/docstage/docstage/internal/journal"
	"github.com/docstage/docstage/internal/layout"
	"github.com/docstage/docstage/internal/progress"
	"github.com/docstage/docstage/internal/staging"
)

// Server is the docstage HTTP server. It routes incoming requests to the
// batch staging handlers and serves the operational endpoints (health,
// metrics, OpenAPI docs, commit history).
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	batch      *handlers.BatchHandler
	journal    *journal.Journal
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status    string `json:"status" example:"ok" doc:"Health status"`
	ServiceID string `json:"service_id" doc:"Process-wide service instance identifier"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// CommitsBody is the JSON body returned by the commit history endpoint.
type CommitsBody struct {
	Commits []journal.CommitRecord `json:"commits"`
}

// CommitsOutput is the Huma output struct for the commit history endpoint.
type CommitsOutput struct {
	Body CommitsBody
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithJournal enables the commit history endpoint backed by the given journal.
func WithJournal(j *journal.Journal) ServerOption {
	return func(s *Server) {
		s.journal = j
	}
}

// New creates a new Server with the given configuration and wires up all
// routes on the Chi router with the Huma API.
func New(cfg *config.Config, stager *staging.Stager, tracker *progress.Tracker, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("docstage batch staging API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		batch:  handlers.NewBatchHandler(stager, tracker),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

// ListenAndServe starts the HTTP server on the given address.
// Middleware chain: metricsMiddleware -> commonHeaders -> router.
func (s *Server) ListenAndServe(addr string) error {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. Huma routes
// (/health, /docs, /openapi.json, /v1/commits) and /metrics are registered
// alongside the staging API routes.
func (s *Server) registerRoutes() {
	// Register /health via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the docstage server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok", ServiceID: layout.ServiceID()}}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	// Register /metrics via promhttp.Handler().
	s.router.Handle("/metrics", promhttp.Handler())

	// Commit history, when the journal is enabled.
	if s.journal != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "list-commits",
			Method:      http.MethodGet,
			Path:        "/v1/commits",
			Summary:     "Recent batch commits",
			Description: "Returns the most recently journaled batch commits, newest first.",
			Tags:        []string{"System"},
		}, func(ctx context.Context, input *struct {
			Limit int `query:"limit" doc:"Maximum number of commits to return"`
		}) (*CommitsOutput, error) {
			commits, err := s.journal.Recent(ctx, input.Limit)
			if err != nil {
				return nil, huma.Error500InternalServerError("querying commit journal", err)
			}
			if commits == nil {
				commits = []journal.CommitRecord{}
			}
			return &CommitsOutput{Body: CommitsBody{Commits: commits}}, nil
		})
	}

	// Staging API.
	s.router.Put("/v1/batches/{tenant}/{batch}", s.batch.CreateOrReplaceBatch)
	s.router.Get("/v1/batches/{tenant}", s.batch.GetBatches)
	s.router.Get("/v1/batches/{tenant}/{batch}/status", s.batch.GetBatchStatus)
	s.router.Delete("/v1/batches/{tenant}/{batch}", s.batch.DeleteBatch)
}
