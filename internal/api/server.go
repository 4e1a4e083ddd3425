// Package api exposes the orchestrator over HTTP: the run lifecycle
// surface, the step-oriented chat surface, the inbound agent callback
// endpoint, and SSE event streams.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/forja-io/forja/internal/engine"
	"github.com/forja-io/forja/internal/streaming"
	"github.com/forja-io/forja/internal/validation"
)

// maxRequestBody caps inbound request bodies. Callbacks carry whole
// artifacts, so the limit is generous.
const maxRequestBody = 10 * 1024 * 1024

// Deps holds the dependencies for the API server.
type Deps struct {
	Orchestrator *engine.Orchestrator
	Hub          streaming.EventHub
	Validator    *validation.ArtifactValidator
	Logger       *slog.Logger
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	deps Deps
	http *http.Server
}

// NewServer builds the server and its route table.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	s := &Server{deps: deps}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Run lifecycle.
	mux.HandleFunc("POST /runs", s.handleCreateRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /runs/{id}/reject", s.handleReject)
	mux.HandleFunc("GET /runs/{id}/artifacts/latest", s.handleLatestArtifact)
	mux.HandleFunc("GET /runs/{id}/artifacts/export", s.handleExport)
	mux.HandleFunc("POST /runs/{id}/artifacts", s.handleManualArtifact)

	// Step-oriented chat surface.
	mux.HandleFunc("POST /api/chat/step", s.handlePostStep)
	mux.HandleFunc("GET /api/chat/logs", s.handleChatLogs)
	mux.HandleFunc("GET /api/chat/artifacts", s.handleChatArtifacts)
	mux.HandleFunc("GET /api/chat/artifacts/download", s.handleChatDownload)

	// Inbound agent callbacks.
	mux.HandleFunc("POST /callbacks/agent/{slug}", s.handleCallback)

	// Event streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	// Operational.
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /agents", s.handleAgents)

	return mux
}

// Handler exposes the route table, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.deps.Logger.Info("http server listening", slog.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
