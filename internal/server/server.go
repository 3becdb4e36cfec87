// Package server exposes the choropleth, chunk, export and overlay
// operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/ingest"
	"github.com/sells-group/precinct-map/internal/metrics"
	"github.com/sells-group/precinct-map/internal/overlay"
)

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
}

// Server holds the HTTP handlers and the background chunk fetches they start.
type Server struct {
	mgr      *ingest.Manager
	overlays *overlay.Service
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server. overlays may be nil, in which case the overlay routes
// answer 503.
func New(mgr *ingest.Manager, overlays *overlay.Service, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{mgr: mgr, overlays: overlays, opts: opts, ctx: ctx, cancel: cancel}
}

// Close cancels running chunk fetches and waits for them to stop.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", s.handleCatalog)
		r.Get("/map/{metric}", s.handleMap)
		r.Get("/legend/{metric}", s.handleLegend)
		r.Get("/precincts/{id}", s.handlePrecinct)

		r.Get("/chunks", s.handleChunks)
		r.Post("/chunks/{key}/fetch", s.handleFetchChunk)
		r.Get("/export", s.handleExport)

		r.Get("/overlays/stats", s.handleOverlayStats)
		r.Delete("/overlays/cache", s.handleOverlayClear)
		r.Get("/overlays/{kind}", s.handleOverlay)
	})
	return r
}

// instrument records request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metrics.HTTPDurationMs.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))

		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
