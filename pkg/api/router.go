package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/api/handlers"
	"github.com/wallvault/wallvault/pkg/upload"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

// Deps carries the adapters the router needs.
type Deps struct {
	Uploads *upload.Service
	Store   wallpaper.Store

	// HealthComponents are probed by GET /ready.
	HealthComponents []handlers.Component

	// Metrics serves GET /metrics; nil disables the route.
	Metrics http.Handler
}

// NewRouter wires the chi router: request id, real ip, logging, panic
// recovery, then the routes. The health endpoints sit on the same stack but
// behind no rate limiting; limiting happens inside the upload pipeline only.
func NewRouter(deps Deps, cfg Config, shuttingDown *atomic.Bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.WriteTimeout))

	uploadHandler := handlers.NewUploadHandler(deps.Uploads, cfg.MaxBodyBytes)
	wallpaperHandler := handlers.NewWallpaperHandler(deps.Store)
	healthHandler := handlers.NewHealthHandler(deps.HealthComponents, shuttingDown)

	r.Post("/upload", uploadHandler.Upload)
	r.Get("/wallpapers/{id}", wallpaperHandler.Get)

	r.Get("/health", healthHandler.Liveness)
	r.Get("/ready", healthHandler.Readiness)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}

// requestLogger logs request start at debug and completion at info through
// the shared logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("HTTP request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("HTTP request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
