// Package api is the read-only status surface of the rig: health,
// engine snapshot, per-task status, and recent run history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"aquarig/internal/history"
	"aquarig/internal/sched"
	"aquarig/pkg/logx"
)

// Config configures the HTTP listener.
type Config struct {
	Addr string
}

// Engine is the part of the scheduler the handlers read.
// Both calls copy under the registry lock and never block a scan.
type Engine interface {
	Snapshot() sched.Snapshot
	Status(id string) (sched.TaskInfo, error)
}

// RunSource serves recent run history; nil when history is disabled.
type RunSource interface {
	RecentRuns(ctx context.Context, limit int) ([]history.RunEntry, error)
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	engine     Engine
	runs       RunSource
	log        logx.Logger
}

func NewServer(cfg Config, engine Engine, runs RunSource, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{engine: engine, runs: runs, log: log.With(logx.String("svc", "api"))}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealthz)
	router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/{taskID}", s.handleTaskStatus)
		r.Get("/runs", s.handleRuns)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests. It blocks like ListenAndServe
// and returns nil after a clean Shutdown.
func (s *Server) Start() error {
	s.log.Info("http server listening", logx.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	status := http.StatusOK
	if !snap.Running {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ok":      snap.Running,
		"tasks":   snap.TotalTasks,
		"running": snap.RunningTasks,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	info, err := s.engine.Status(id)
	if err != nil {
		if errors.Is(err, sched.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.log.Error("task status", logx.String("task_id", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "run history is not enabled")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if limit > 500 {
		limit = 500
	}
	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("recent runs", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load runs")
		return
	}
	if runs == nil {
		runs = []history.RunEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
