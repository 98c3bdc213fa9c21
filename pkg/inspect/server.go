package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atomflow-dev/atomflow/pkg/atom"
	"github.com/atomflow-dev/atomflow/pkg/track"
)

// Server serves the inspection API. All routes are JSON except /metrics
// (Prometheus exposition) and /ws (WebSocket lifecycle stream).
type Server struct {
	graph    *atom.Graph
	tracker  *track.Tracker
	engine   *track.Engine
	hub      *Hub
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	router   chi.Router
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the Prometheus gatherer behind /metrics.
// Defaults to prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates an inspection server over the given runtime pieces.
// Graph and engine may be nil; their routes then return 404.
func NewServer(graph *atom.Graph, tracker *track.Tracker, engine *track.Engine, opts ...ServerOption) *Server {
	s := &Server{
		graph:    graph,
		tracker:  tracker,
		engine:   engine,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "inspect")
	s.hub = NewHub(tracker, s.logger)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.health)
	r.Get("/api/atoms", s.listAtoms)
	r.Get("/api/atoms/{id}", s.getAtom)
	r.Get("/api/stats", s.stats)

	if s.graph != nil {
		r.Get("/api/graph", s.dependencyGraph)
		r.Get("/api/cycles", s.cycles)
	}
	if s.engine != nil {
		r.Get("/api/archive", s.archived)
		r.Post("/api/archive/{id}/restore", s.restore)
		r.Post("/api/sweep", s.sweep)
	}

	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", s.hub.ServeHTTP)
	return r
}

// Handler returns the server's routes for mounting into a larger router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub; call its Run to start event relaying.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts
// down gracefully. The hub's relay loop runs for the lifetime of the call.
func (s *Server) Serve(ctx context.Context, addr string) error {
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("inspection server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		return err
	}
}

// --- route handlers ---------------------------------------------------------

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"trackedAtoms": s.tracker.Len(),
		"wsClients":    s.hub.Count(),
	})
}

// listAtoms returns GET /api/atoms: the full lifecycle ledger, ordered by
// atom ID.
func (s *Server) listAtoms(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, s.tracker.Snapshot())
}

// getAtom returns GET /api/atoms/{id}: one ledger entry.
func (s *Server) getAtom(w http.ResponseWriter, r *http.Request) {
	id, ok := atomID(r)
	if !ok {
		jsonErr(w, http.StatusBadRequest, "invalid atom id")
		return
	}
	snap, ok := s.tracker.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "atom not tracked")
		return
	}
	jsonResp(w, http.StatusOK, snap)
}

// statsResponse is the GET /api/stats payload.
type statsResponse struct {
	Tracked  int         `json:"tracked"`
	Archived int         `json:"archived"`
	Cleanup  track.Stats `json:"cleanup"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Tracked: s.tracker.Len()}
	if s.engine != nil {
		resp.Archived = len(s.engine.Archived())
		resp.Cleanup = s.engine.Stats()
	}
	jsonResp(w, http.StatusOK, resp)
}

// dependencyGraph returns GET /api/graph: adjacency by atom name.
func (s *Server) dependencyGraph(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, s.graph.DependencyGraph())
}

// cycles returns GET /api/cycles: each detected cycle as a list of atom IDs.
func (s *Server) cycles(w http.ResponseWriter, r *http.Request) {
	cycles := s.graph.DetectCycles()
	out := make([][]uint64, 0, len(cycles))
	for _, cycle := range cycles {
		ids := make([]uint64, len(cycle))
		for i, id := range cycle {
			ids[i] = uint64(id)
		}
		out = append(out, ids)
	}
	jsonResp(w, http.StatusOK, map[string]any{
		"count":  len(out),
		"cycles": out,
	})
}

// archived returns GET /api/archive: archived snapshots, oldest first.
func (s *Server) archived(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, s.engine.Archived())
}

// restore handles POST /api/archive/{id}/restore.
func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	id, ok := atomID(r)
	if !ok {
		jsonErr(w, http.StatusBadRequest, "invalid atom id")
		return
	}
	snap, ok := s.engine.Restore(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "atom not archived")
		return
	}
	s.logger.Info("atom restored", "atom_id", id, "name", snap.Name)
	jsonResp(w, http.StatusOK, snap)
}

// sweep handles POST /api/sweep: runs one cleanup cycle immediately.
func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	res := s.engine.Sweep(r.Context())
	jsonResp(w, http.StatusOK, res)
}

// --- helpers ----------------------------------------------------------------

func atomID(r *http.Request) (atom.ID, bool) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return atom.ID(n), true
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, map[string]string{"error": msg})
}
