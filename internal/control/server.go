// Package control exposes a running service over HTTP and provides the
// client the CLI uses to reach it.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notegraph/internal/logging"
	"notegraph/internal/system"
	"notegraph/internal/transparency"
	"notegraph/internal/types"
)

// Default thresholds for listing and applying pending connections.
const (
	DefaultMinScore      = 6.0
	DefaultMinConfidence = 0.7
)

// Controller is the service surface the API exposes.
type Controller interface {
	Status() system.Status
	ForceAnalysis(ctx context.Context, path string) (int, error)
	ApplyPending(ctx context.Context, minScore, minConfidence float64) (system.ApplyReport, error)
	PendingConnections(minScore, minConfidence float64) ([]*types.Connection, error)
}

// ForceRequest is the body of POST /force.
type ForceRequest struct {
	Path string `json:"path"`
}

// ForceResponse reports how many tasks were queued.
type ForceResponse struct {
	Queued int `json:"queued"`
}

// ApplyRequest is the body of POST /apply.
type ApplyRequest struct {
	MinScore      float64 `json:"min_score"`
	MinConfidence float64 `json:"min_confidence"`
}

// PendingResponse is the body of GET /connections/pending.
type PendingResponse struct {
	Count       int                 `json:"count"`
	Connections []*types.Connection `json:"connections"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the control API.
type Server struct {
	ctrl     Controller
	registry prometheus.Gatherer
	http     *http.Server
}

// NewServer creates a server. registry may be nil to disable /metrics.
func NewServer(ctrl Controller, registry prometheus.Gatherer) *Server {
	return &Server{ctrl: ctrl, registry: registry}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/force", s.handleForce)
	r.Post("/apply", s.handleApply)
	r.Get("/connections/pending", s.handlePending)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr ends in ":0".
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ControlError("control API stopped: %v", err)
		}
	}()
	logging.Control("control API listening on %s", ln.Addr())
	return ln.Addr().String(), nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleForce(w http.ResponseWriter, r *http.Request) {
	var req ForceRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.ctrl.ForceAnalysis(r.Context(), req.Path)
	if err != nil {
		status := http.StatusInternalServerError
		if transparency.CategoryOf(err) == transparency.ErrorCategoryFilesystem {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, ForceResponse{Queued: n})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	req := ApplyRequest{MinScore: DefaultMinScore, MinConfidence: DefaultMinConfidence}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := s.ctrl.ApplyPending(r.Context(), req.MinScore, req.MinConfidence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	minScore, err := queryFloat(r, "min_score", DefaultMinScore)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minConfidence, err := queryFloat(r, "min_confidence", DefaultMinConfidence)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	conns, err := s.ctrl.PendingConnections(minScore, minConfidence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if conns == nil {
		conns = []*types.Connection{}
	}
	writeJSON(w, http.StatusOK, PendingResponse{Count: len(conns), Connections: conns})
}

// decodeOptional decodes a JSON body into v; an empty body leaves v as is.
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ControlError("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Get(logging.CategoryControl).With(
			"request_id", middleware.GetReqID(r.Context()),
			"status", ww.Status(),
		).Debug("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}
