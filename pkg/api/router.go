// Package api provides the REST surface of the upload pipeline: the
// chi router, the HTTP server with graceful shutdown, and their
// configuration.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/pixstore/internal/logger"
	"github.com/marmos91/pixstore/pkg/api/handlers"
	"github.com/marmos91/pixstore/pkg/metrics"
	"github.com/marmos91/pixstore/pkg/upload/service"
)

// RouterDeps carries the collaborators the router wires into handlers.
type RouterDeps struct {
	// Orchestrator serves the upload endpoints.
	Orchestrator *service.Orchestrator

	// ReadinessChecks back GET /health/ready. May be empty.
	ReadinessChecks []handlers.ReadinessCheck

	// HTTPMetrics instruments requests. Nil disables instrumentation.
	HTTPMetrics *metrics.HTTPMetrics

	// RequestTimeout bounds request handling. Zero means 30s.
	RequestTimeout time.Duration

	// MaxUploadSize caps the declared size of new uploads in bytes.
	// Zero disables the check.
	MaxUploadSize int64
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - POST /uploads - create an upload, issue a presigned URL
//   - GET /uploads/{uploadId} - fetch the upload record
//   - POST /uploads/{uploadId}/complete - signal client-side completion
//   - GET /health - liveness probe
//   - GET /health/ready - readiness probe
//   - GET /metrics - Prometheus exposition
func NewRouter(deps RouterDeps) http.Handler {
	requestTimeout := deps.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(metricsMiddleware(deps.HTTPMetrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	uploadHandler := handlers.NewUploadHandler(deps.Orchestrator, deps.MaxUploadSize)
	healthHandler := handlers.NewHealthHandler(deps.ReadinessChecks)

	r.Route("/uploads", func(r chi.Router) {
		r.Post("/", uploadHandler.Create)
		r.Get("/{uploadId}", uploadHandler.Get)
		r.Post("/{uploadId}/complete", uploadHandler.Complete)
	})

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.RequestID(requestID),
			"method", r.Method,
			"path", r.URL.Path,
			logger.ClientIP(r.RemoteAddr),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			logger.RequestID(requestID),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}

// metricsMiddleware records per-request metrics against the chi route
// pattern so path parameters do not explode label cardinality.
func metricsMiddleware(m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			m.RecordActive(1)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			m.RecordActive(-1)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(r.Method, route, strconv.Itoa(ww.Status()), time.Since(start))
		})
	}
}
