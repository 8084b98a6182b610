// Package server exposes the policy store over a REST-ish JSON API.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/policystore/policystore/pkg/audit"
	"github.com/policystore/policystore/pkg/auth"
	"github.com/policystore/policystore/pkg/cache"
	"github.com/policystore/policystore/pkg/metrics"
	"github.com/policystore/policystore/pkg/policy"
)

// Server wires the policy store, the auth resolver, and the optional
// observability components into one HTTP handler tree.
type Server struct {
	connector   policy.Connector[json.RawMessage]
	resolver    auth.Resolver
	logger      *slog.Logger
	metrics     *metrics.Metrics
	auditStore  *audit.Store
	auditConfig *audit.Config
	cache       *cache.Cache
	startedAt   time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics enables request and store instrumentation plus the
// /metrics endpoint.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAudit enables the mutation audit trail.
func WithAudit(store *audit.Store, cfg *audit.Config) Option {
	return func(s *Server) {
		s.auditStore = store
		s.auditConfig = cfg
	}
}

// WithResponseCache serves repeated version reads from memory. Only the
// per-version routes are cached; a stored version never changes, while
// the active version can change at any time and is always read fresh.
func WithResponseCache(c *cache.Cache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// New creates a Server. A nil logger falls back to slog.Default.
func New(connector policy.Connector[json.RawMessage], resolver auth.Resolver, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		connector: connector,
		resolver:  resolver,
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MountRoutes creates the HTTP router with all endpoints mounted.
func (s *Server) MountRoutes() chi.Router {
	router := chi.NewRouter()

	// Add common middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Use(s.requestLogger)
	if s.metrics != nil {
		router.Use(s.metrics.Middleware)
	}

	// Add health endpoints
	router.Get("/healthz", s.healthHandler)
	router.Get("/livez", s.healthHandler)
	router.Get("/readyz", s.readyHandler)
	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	h := &handlers{connector: s.connector, logger: s.logger}
	router.Route("/v2", func(r chi.Router) {
		r.Use(authMiddleware(s.resolver, s.logger))
		if s.auditStore != nil && s.auditConfig != nil && s.auditConfig.Enabled {
			r.Use(audit.Middleware(s.auditStore, s.auditConfig, s.logger))
			s.logger.Info("audit middleware enabled",
				"logDenied", s.auditConfig.LogDenied,
				"retentionDays", s.auditConfig.RetentionDays)
		}

		r.Route("/policies", func(r chi.Router) {
			r.Post("/", h.addVersion)
			r.Get("/", h.getVersions)
			r.Route("/active", func(r chi.Router) {
				r.Put("/", h.activate)
				r.Delete("/", h.deactivate)
				r.Get("/", h.getActiveVersion)
				r.Get("/activator", h.getActivator)
			})
			// Version reads sit behind the auth middleware, so cached
			// responses are only reachable by authorized callers.
			versionReads := r
			if s.cache != nil {
				versionReads = r.With(cache.Middleware(s.cache))
			}
			versionReads.Get("/{version}", h.getVersionMetadata)
			versionReads.Get("/{version}/content", h.getVersionContent)
		})
	})

	return router
}

// requestLogger logs one line per served request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"requestID", middleware.GetReqID(r.Context()))
	})
}

// healthHandler returns the liveness status of the server.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler checks that the policy store is reachable.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.connector.Connect(ctx, auth.Identity{ID: "readiness-probe", Name: auth.DefaultDisplayName}); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
