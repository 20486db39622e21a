// SPDX-License-Identifier: LGPL-3.0-or-later

// Package api implements the HTTP surface: stateless handlers that
// decode a request into a domain command, delegate to the orchestrator,
// and map the result (or error) to a JSON response.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hyperorc/daemon/audit"
	"hyperorc/daemon/metrics"
	"hyperorc/logger"
	"hyperorc/orchestrator"
)

const version = "0.1.0"

// Server is the HTTP surface over an Orchestrator.
type Server struct {
	orc        *orchestrator.Orchestrator
	log        logger.Logger
	agentPort  int
	httpServer *http.Server
	router     chi.Router
	audit      audit.Logger
}

// SetAuditLogger attaches an audit sink; handlers that touch a lease
// record an event against it when non-nil. Omitted by default so tests
// don't need a log directory.
func (s *Server) SetAuditLogger(a audit.Logger) { s.audit = a }

// NewServer builds the chi router and wraps it in an *http.Server bound
// to addr. agentPort is used to derive the agent_endpoint field on
// resume responses.
func NewServer(orc *orchestrator.Orchestrator, log logger.Logger, addr string, agentPort int) *Server {
	s := &Server{orc: orc, log: log, agentPort: agentPort}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	// Handlers run on a context that is not cancelled when the client
	// disconnects, so a hypervisor call already started runs to completion
	// and its result is persisted.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(context.WithoutCancel(req.Context())))
		})
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{name}", s.handleGetTemplate)
			r.Delete("/{name}", s.handleDeleteTemplate)
		})

		r.Route("/pools", func(r chi.Router) {
			r.Get("/", s.handleListPools)
			r.Post("/", s.handleCreatePool)
			r.Get("/{name}", s.handlePoolStatus)
			r.Delete("/{name}", s.handleDeletePool)
			r.Post("/{name}/provision", s.handleProvisionPool)
			r.Post("/{name}/prepare", s.handlePreparePool)
		})

		r.Route("/vms", func(r chi.Router) {
			r.Get("/", s.handleListVMs)
			r.Get("/{name}", s.handleGetVM)
			r.Delete("/{name}", s.handleDeleteVM)
			r.Post("/{name}/resume", s.handleResumeVM)
			r.Post("/{name}/save", s.handleSaveVM)
			r.Post("/{name}/reset", s.handleResetVM)
			r.Post("/{name}/stop", s.handleStopVM)
			r.Post("/{name}/prepare", s.handlePrepareVM)
			r.Post("/{name}/release", s.handleReleaseVM)
			r.Post("/{name}/console", s.handleOpenConsole)
			r.Get("/{name}/console/stream", s.handleConsoleStream)
		})

		r.Post("/acquire", s.handleAcquire)
		r.Post("/reconcile", s.handleReconcile)
		r.Get("/audit", s.handleAuditQuery)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // resume/prepare hold the connection open for the wait loop
	}
	return s
}

// Handler returns the server's routed http.Handler, for embedding in an
// httptest.Server or a different listener setup.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the server, blocking until it stops or errors.
func (s *Server) Start() error {
	s.log.Info("starting API server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. HTTP clients that cancel
// mid-request do not leave VMs wedged: the in-flight handler finishes
// its hypervisor call and persists the result before the response is
// discarded; Shutdown only stops accepting new requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", elapsed, "status", sw.status)
		metrics.RecordAPIRequest(r.Method, routePattern(r), fmt.Sprintf("%d", sw.status), elapsed.Seconds())
	})
}

// statusWriter captures the status code written through an http.ResponseWriter
// so the logging middleware can report it without peeking at handler internals.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// routePattern prefers the matched chi route pattern over the raw path so
// the path_code label cardinality stays bounded by route count, not by the
// number of distinct VM/pool/template names ever seen.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, HealthResponse{Status: "ok", Version: version})
}
