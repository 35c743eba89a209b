// Package api is the HTTP surface of `bootgate serve`: a welcome route and
// liveness/readiness probes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/pkg/api/handlers"
)

// DefaultRequestTimeout bounds every request.
const DefaultRequestTimeout = 30 * time.Second

// RouterConfig configures NewRouter.
type RouterConfig struct {
	ServiceName    string
	Checks         []handlers.Check
	RequestTimeout time.Duration
}

// NewRouter creates the chi router.
//
// Routes:
//   - GET /              welcome message
//   - GET /health        liveness
//   - GET /health/ready  readiness (database schema current, cache answering)
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bootgate"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	healthHandler := handlers.NewHealthHandler(cfg.ServiceName, cfg.Checks...)

	r.Get("/", handlers.Welcome(cfg.ServiceName))
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	return r
}

// requestLogger logs each request through the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.DebugCtx(r.Context(), "API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, float64(time.Since(start).Microseconds())/1000.0,
		)
	})
}
