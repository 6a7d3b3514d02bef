// Package api serves the image store over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aweris/imgcas"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// multipartSlack is the allowance for multipart framing on top of the
// largest accepted object.
const multipartSlack = 1 << 20

// Store is the part of the engine the handlers use.
type Store interface {
	Store(ctx context.Context, r io.Reader, filename, declaredType string) (imgcas.Result, error)
	Delete(ctx context.Context, digest string) (bool, error)
	Get(digest string) (imgcas.ObjectRecord, bool)
	Open(digest string) (io.ReadCloser, imgcas.ObjectRecord, error)
	Stats() imgcas.Stats
}

// Sweeper runs a retention pass on demand.
type Sweeper interface {
	RunSweep(ctx context.Context, now time.Time, window time.Duration) int
}

// Config controls the handlers.
type Config struct {
	MaxObjectSize   uint64
	RetentionWindow time.Duration
	// Gatherer backs /metrics; the endpoint is omitted when nil.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// NewRouter returns the HTTP handler for store and sweeper.
//
// Routes:
//   - POST /api/upload - multipart upload, field "file"
//   - GET /api/stats - store statistics
//   - POST /api/cleanup - run a retention sweep now
//   - GET /api/objects/{digest} - object record
//   - GET /api/objects/{digest}/content - object bytes
//   - DELETE /api/objects/{digest} - remove an object
//   - GET /healthz - liveness probe
//   - GET /metrics - Prometheus metrics
func NewRouter(store Store, sweeper Sweeper, cfg Config) http.Handler {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	h := &handler{store: store, sweeper: sweeper, cfg: cfg, log: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", h.upload)
		r.Get("/stats", h.stats)
		r.Post("/cleanup", h.cleanup)

		r.Route("/objects/{digest}", func(r chi.Router) {
			r.Get("/", h.getObject)
			r.Delete("/", h.deleteObject)
			r.Get("/content", h.getContent)
		})
	})

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			ev := log.Info()
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				ev = log.Debug()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
