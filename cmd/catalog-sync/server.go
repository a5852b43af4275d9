package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/catalog-sync/pkg/metrics"
	"github.com/Sternrassler/catalog-sync/pkg/store"
	"github.com/Sternrassler/catalog-sync/pkg/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// syncRunner is the part of syncer.Service the admin server needs.
type syncRunner interface {
	Run(ctx context.Context) (syncer.Summary, error)
	Running() bool
}

// runLookup reads the sync-run journal.
type runLookup interface {
	Latest(ctx context.Context, shopID int64) (*store.Run, error)
}

// adminServer serves health, readiness, metrics and manual sync triggers.
type adminServer struct {
	runner  syncRunner
	runs    runLookup
	shopID  int64
	trigger chan<- struct{}
	checks  map[string]func(context.Context) error
	logger  zerolog.Logger
}

func (s *adminServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/sync", s.syncHandler)
	r.Get("/runs/latest", s.latestRunHandler)
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// readyHandler reports 503 when any dependency check fails.
func (s *adminServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, status, result)
}

// syncHandler queues a pass for the sync loop.
func (s *adminServer) syncHandler(w http.ResponseWriter, _ *http.Request) {
	if s.runner.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "running"})
		return
	}
	select {
	case s.trigger <- struct{}{}:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	default:
		writeJSON(w, http.StatusConflict, map[string]string{"status": "queued"})
	}
}

func (s *adminServer) latestRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Latest(r.Context(), s.shopID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to read sync run journal")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *adminServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Admin request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
