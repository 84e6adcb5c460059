// Package api provides the region's HTTP surface: the anonymous
// simplestreams images endpoint, health probes, and Prometheus metrics.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/git-habz/maas/internal/logger"
	"github.com/git-habz/maas/pkg/bootresources"
)

// AnonymousPrefixes are the URL prefixes the access middleware lets through
// without credentials. Rack controllers fetch images anonymously.
var AnonymousPrefixes = []string{
	bootresources.URLPrefix,
	"/health",
	"/metrics",
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /metrics - Prometheus metrics
//   - /images-stream/* - Simplestreams catalog and image content
func NewRouter(images *bootresources.Handler, ready func(r *http.Request) error) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
			if ready != nil {
				if err := ready(req); err != nil {
					http.Error(w, err.Error(), http.StatusServiceUnavailable)
					return
				}
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	// The images endpoint is anonymous; no auth middleware wraps it.
	imagesPrefix := strings.TrimSuffix(bootresources.URLPrefix, "/")
	r.Mount(imagesPrefix, http.StripPrefix(imagesPrefix, images.Routes()))

	return r
}

// requestLogger logs each request with the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("HTTP request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
