// Package api serves the run history and the lifecycle state as read-only
// JSON for reporting front ends.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"dealbot/internal/lifecycle"
	"dealbot/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// Reader is the read side of the store.
type Reader interface {
	RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	LatestRun(ctx context.Context) (*models.RunSummary, error)
	LoadState(ctx context.Context) (*lifecycle.State, error)
}

// Server exposes the report endpoints.
type Server struct {
	reader Reader
	logger *slog.Logger
}

// New creates a report server.
func New(reader Reader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{reader: reader, logger: logger.With("component", "api")}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/runs", s.listRuns)
	r.Get("/runs/latest", s.latestRun)
	r.Get("/state", s.state)

	return r
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("report api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	runs, err := s.reader.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not read run history")
		return
	}
	if runs == nil {
		runs = []models.RunSummary{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.reader.LatestRun(r.Context())
	if errors.Is(err, models.ErrNoRuns) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("latest run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not read run history")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	state, err := s.reader.LoadState(r.Context())
	if err != nil {
		s.logger.Error("load state", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not read state")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
