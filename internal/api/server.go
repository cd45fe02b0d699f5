// Package api serves the read-only status endpoints: loader health, the
// currently loaded release and the run history.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nishad/uniload/internal/db"
)

// Registry is the slice of the adapter surface the API reads from.
type Registry interface {
	Ping(ctx context.Context) error
	CurrentRelease(ctx context.Context, schemaName string) (*db.ReleaseRecord, error)
	History(ctx context.Context, schemaName string, limit int) ([]db.RunRecord, error)
}

// Server is the status HTTP server.
type Server struct {
	router   *mux.Router
	server   *http.Server
	registry Registry
	schema   string
	logger   zerolog.Logger
}

// Config holds server configuration.
type Config struct {
	ListenAddr string
	Schema     string
}

// NewServer wires the routes against one registry.
func NewServer(cfg Config, registry Registry, logger zerolog.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		registry: registry,
		schema:   cfg.Schema,
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("status API listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Schema              string     `json:"schema"`
	Version             string     `json:"version,omitempty"`
	ReleaseDate         *time.Time `json:"release_date,omitempty"`
	LoadTimestamp       *time.Time `json:"load_timestamp,omitempty"`
	SwissprotEntryCount int64      `json:"swissprot_entry_count,omitempty"`
	TremblEntryCount    int64      `json:"trembl_entry_count,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rel, err := s.registry.CurrentRelease(r.Context(), s.schema)
	if err != nil {
		s.logger.Error().Err(err).Msg("status query failed")
		s.writeError(w, http.StatusServiceUnavailable, "could not read release registry")
		return
	}

	resp := statusResponse{Schema: s.schema}
	if rel != nil {
		resp.Version = rel.Version
		resp.ReleaseDate = &rel.ReleaseDate
		resp.LoadTimestamp = &rel.LoadTimestamp
		resp.SwissprotEntryCount = rel.SwissprotEntryCount
		resp.TremblEntryCount = rel.TremblEntryCount
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type historyEntry struct {
	RunID     string     `json:"run_id"`
	Status    string     `json:"status"`
	Mode      string     `json:"mode"`
	Dataset   string     `json:"dataset,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.registry.History(r.Context(), s.schema, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("history query failed")
		s.writeError(w, http.StatusServiceUnavailable, "could not read load history")
		return
	}

	out := make([]historyEntry, 0, len(runs))
	for _, run := range runs {
		e := historyEntry{
			RunID:     run.RunID.String(),
			Status:    run.Status,
			Mode:      run.Mode,
			Dataset:   run.Dataset,
			StartTime: run.StartTime,
			Error:     run.ErrorMessage,
		}
		if !run.EndTime.IsZero() {
			end := run.EndTime
			e.EndTime = &end
		}
		out = append(out, e)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
