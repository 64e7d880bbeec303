// Package server exposes the engine over HTTP: job submission and status,
// lifecycle event streaming, and the local asset proxy the downloader
// targets for library-internal paths.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/posterforge/posterforge/internal/job"
	"github.com/posterforge/posterforge/internal/media"
	"github.com/posterforge/posterforge/pkg/events"
)

// Server wires the HTTP surface.
type Server struct {
	orch        *job.Orchestrator
	bus         *events.Bus
	servers     map[string]media.Server
	proxyClient *http.Client
	logger      *zap.Logger
}

// New creates the HTTP server facade.
func New(orch *job.Orchestrator, bus *events.Bus, servers map[string]media.Server, logger *zap.Logger) *Server {
	return &Server{
		orch:    orch,
		bus:     bus,
		servers: servers,
		proxyClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger.Named("http"),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Post("/jobs", s.handleSubmit)
		api.Get("/jobs", s.handleListJobs)
		api.Get("/jobs/{id}", s.handleJobStatus)
		api.Delete("/jobs/{id}", s.handleCancel)
		api.Get("/stats", s.handleStats)
		api.Get("/events", s.handleEvents)
	})
	r.Get("/proxy", s.handleProxy)

	return r
}

type submitRequest struct {
	Source     string      `json:"source"`
	LibraryIDs []string    `json:"library_ids"`
	Options    job.Options `json:"options"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	id := s.orch.Submit(req.Source, req.LibraryIDs, req.Options)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var states []job.State
	if state := r.URL.Query().Get("state"); state != "" {
		states = append(states, job.State(state))
	}
	writeJSON(w, http.StatusOK, s.orch.List(states...))
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.orch.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.orch.Cancel(id) {
		writeError(w, http.StatusConflict, "job is not queued; only queued jobs can be cancelled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(job.StateCancelled)})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Stats())
}

// handleEvents streams job lifecycle events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	stream := s.bus.Stream()
	defer s.bus.Unsubscribe(stream)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-stream:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		}
	}
}

// handleProxy rewrites a library-internal path into a fetch against the
// named server, attaching that server's credentials.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("server")
	path := r.URL.Query().Get("path")
	if name == "" || path == "" {
		writeError(w, http.StatusBadRequest, "server and path are required")
		return
	}
	srv, ok := s.servers[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown server %q", name))
		return
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, srv.BaseURL+path, nil)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("building upstream request: %v", err))
		return
	}
	switch srv.Type {
	case media.SourcePlex:
		req.Header.Set("X-Plex-Token", srv.Token)
	case media.SourceJellyfin:
		req.Header.Set("Authorization", fmt.Sprintf(`MediaBrowser Token="%s"`, srv.Token))
	}

	resp, err := s.proxyClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream fetch failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("proxy copy interrupted", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
