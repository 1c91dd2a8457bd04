// Package server exposes the search endpoint and the admin surface over
// HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Myrient-Search/Myrient-Search/internal/async"
	"github.com/Myrient-Search/Myrient-Search/internal/catalog"
	"github.com/Myrient-Search/Myrient-Search/internal/pipeline"
	"github.com/Myrient-Search/Myrient-Search/internal/scheduler"
	"github.com/Myrient-Search/Myrient-Search/internal/searchindex"
	"github.com/Myrient-Search/Myrient-Search/pkg/version"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

// Server wires the adapters into an http.Handler.
type Server struct {
	store    *catalog.Store
	index    *searchindex.Index
	pipe     *pipeline.Pipeline
	sched    *scheduler.Scheduler
	adminKey string
}

// New creates the server. An empty adminKey locks the admin surface out
// entirely.
func New(store *catalog.Store, index *searchindex.Index, pipe *pipeline.Pipeline, sched *scheduler.Scheduler, adminKey string) *Server {
	return &Server{
		store:    store,
		index:    index,
		pipe:     pipe,
		sched:    sched,
		adminKey: adminKey,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/search", s.handleSearch)
	r.Get("/healthz", s.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdminKey)
		r.Get("/pipeline", s.handlePipelineState)
		r.Post("/pipeline/start", s.handlePipelineStart)
		r.Post("/pipeline/stop", s.handlePipelineStop)
		r.Get("/schedule", s.handleScheduleGet)
		r.Post("/schedule", s.handleScheduleSet)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// requireAdminKey guards the admin surface with a shared key compared in
// constant time.
func (s *Server) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			writeError(w, http.StatusServiceUnavailable, "admin surface disabled: no admin key configured")
			return
		}
		key := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type searchResponse struct {
	Query   string          `json:"query"`
	Total   uint64          `json:"total"`
	Results []*catalog.Game `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxSearchLimit))
			return
		}
		limit = n
	}

	hits, total, err := s.index.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search failed", "query", query, "error", err)
		return
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	games, err := s.store.GamesByIDs(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load results failed")
		slog.Error("load search results", "query", query, "error", err)
		return
	}

	// Preserve score order; drop ids whose rows vanished mid-flight.
	byID := make(map[int64]*catalog.Game, len(games))
	for _, g := range games {
		byID[g.ID] = g
	}
	ordered := make([]*catalog.Game, 0, len(hits))
	for _, h := range hits {
		if g, ok := byID[h.ID]; ok {
			ordered = append(ordered, g)
		}
	}

	s.store.AppendSearchLog(r.Context(), query, int(total))
	writeJSON(w, http.StatusOK, searchResponse{Query: query, Total: total, Results: ordered})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePipelineState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Snapshot())
}

type startRequest struct {
	Mode async.Mode `json:"mode"`
}

func (s *Server) handlePipelineStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil {
		// An empty body means an incremental run.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Mode == "" {
		req.Mode = async.ModeIncremental
	}
	if req.Mode != async.ModeIncremental && req.Mode != async.ModeClean {
		writeError(w, http.StatusBadRequest, "mode must be incremental or clean")
		return
	}

	// The run outlives this request.
	runID, err := s.pipe.Start(context.WithoutCancel(r.Context()), req.Mode)
	if err == pipeline.ErrAlreadyRunning {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "mode": string(req.Mode)})
}

func (s *Server) handlePipelineStop(w http.ResponseWriter, r *http.Request) {
	err := s.pipe.Stop()
	if err == pipeline.ErrNotRunning {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Config())
}

func (s *Server) handleScheduleSet(w http.ResponseWriter, r *http.Request) {
	var cfg scheduler.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule body")
		return
	}
	if err := s.sched.Apply(context.WithoutCancel(r.Context()), cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Config())
}

type statusResponse struct {
	Version       string       `json:"version"`
	Store         string       `json:"store"`
	Games         int64        `json:"games"`
	Enriched      int64        `json:"enriched"`
	SearchLogs    int64        `json:"search_logs"`
	IndexDocs     uint64       `json:"index_docs"`
	IndexFailures int64        `json:"index_failures"`
	Pipeline      async.Status `json:"pipeline"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:       version.Version,
		Store:         "ok",
		IndexFailures: s.index.Failures(),
		Pipeline:      s.pipe.Snapshot().Status,
	}

	if err := s.store.Ping(r.Context()); err != nil {
		resp.Store = err.Error()
	} else if st, err := s.store.GetStats(r.Context()); err == nil {
		resp.Games = st.Games
		resp.Enriched = st.Enriched
		resp.SearchLogs = st.SearchLogs
	}
	if n, err := s.index.DocCount(); err == nil {
		resp.IndexDocs = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
