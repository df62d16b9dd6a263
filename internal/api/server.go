// Package api exposes the HTTP interface for archive front-ends.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archivist-dev/archivist/internal/metrics"
	"github.com/archivist-dev/archivist/internal/query"
	"github.com/archivist-dev/archivist/internal/runlog"
)

const defaultSearchLimit = 100

// Server wires HTTP handlers to the query facade.
type Server struct {
	router  chi.Router
	facade  *query.Facade
	runs    *runlog.Log
	dataDir string
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Media files
// under dataDir are served read-only below /media/.
func NewServer(facade *query.Facade, runs *runlog.Log, dataDir string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runs == nil {
		runs = runlog.New(0)
	}
	s := &Server{
		facade:  facade,
		runs:    runs,
		dataDir: dataDir,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.search)
		r.Get("/sources", s.sources)
		r.Get("/runs", s.recentRuns)
		r.Post("/fetch/{source}", s.fetch)
	})

	r.Get("/media/{source}/{kind}/*", s.mediaFile)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) sources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.facade.Sources()})
}

func (s *Server) recentRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.runs.Recent()})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("q")
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	results, err := s.facade.Search(r.Context(), text, limit)
	if err != nil {
		s.logger.Error("search failed", zap.String("query", text), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	metrics.RecordSearch("http")

	for i := range results {
		results[i].Img = s.mediaURL(results[i].Img)
		results[i].ThumbImg = s.mediaURL(results[i].ThumbImg)
		results[i].Meta.Static = s.mediaURL(results[i].Meta.Static)
	}
	if results == nil {
		results = []query.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

// fetch triggers a sync run for one source and acknowledges right away.
// Run failures are logged by the facade, not surfaced here; only an
// unknown source is an error.
func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if !s.facade.Has(source) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", source))
		return
	}

	// The run outlives the request: detach from the request context so
	// neither a client disconnect nor the timeout middleware cancels a
	// sync mid-flight.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.facade.Fetch(ctx, source); err != nil {
			s.logger.Error("fetch dispatch failed", zap.String("source", source), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"source": source, "status": "started"})
}

// mediaKinds are the only data subdirectories the file server exposes.
// The databases and lock files living beside them stay private.
var mediaKinds = map[string]bool{"assets": true, "thumbs": true, "frozen": true}

// mediaFile serves one stored artifact below /media/{source}/{kind}/.
func (s *Server) mediaFile(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	kind := chi.URLParam(r, "kind")
	if source == ".." || !mediaKinds[kind] {
		http.NotFound(w, r)
		return
	}

	// Resolve against the kind directory and refuse anything that cleans
	// to a path outside it.
	base := filepath.Join(s.dataDir, source, kind)
	full := filepath.Join(base, filepath.FromSlash(chi.URLParam(r, "*")))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

// mediaURL rewrites an absolute media path under dataDir to its /media/
// URL. Paths outside dataDir (or empty ones) pass through untouched.
func (s *Server) mediaURL(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(s.dataDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return "/media/" + filepath.ToSlash(rel)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
