// Package admin serves cluster introspection and metrics over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/lib/logger"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
)

// ClusterAPI is the part of *cluster.Client the admin server exposes
type ClusterAPI interface {
	Slots(ctx context.Context) ([]cluster.SlotRange, error)
	Nodes(ctx context.Context) ([]cluster.NodeRecord, error)
	Slaves(ctx context.Context, masterID string) ([]cluster.NodeRecord, error)
	Info(ctx context.Context) (map[string]string, error)
	Keyslot(key string) int
	Refresh(ctx context.Context) error
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// KeyslotResponse is the body of /keyslot/{key}
type KeyslotResponse struct {
	Key  string `json:"key"`
	Slot int    `json:"slot"`
}

// Server is the admin http server
type Server struct {
	api        ClusterAPI
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	addr       string
}

// NewServer creates a server listening on addr. gatherer may be nil, /metrics then serves the default registry.
func NewServer(api ClusterAPI, addr string, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		api:      api,
		gatherer: gatherer,
		addr:     addr,
	}
}

// Handler builds the chi router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/slots", s.handleSlots)
	r.Get("/nodes", s.handleNodes)
	r.Get("/nodes/{id}/slaves", s.handleSlaves)
	r.Get("/info", s.handleInfo)
	r.Get("/keyslot/{key}", s.handleKeyslot)
	r.Post("/refresh", s.handleRefresh)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

// Start serves in the background
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("admin http server error: %v", err)
		}
	}()
	logger.Infof("admin http server started at %s", s.addr)
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown admin http server: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warnf("encode admin response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var unknown *cluster.UnknownNodeError
	if errors.As(err, &unknown) {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.api.Slots(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, slots)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.api.Nodes(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleSlaves(w http.ResponseWriter, r *http.Request) {
	slaves, err := s.api.Slaves(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if slaves == nil {
		slaves = []cluster.NodeRecord{}
	}
	s.writeJSON(w, http.StatusOK, slaves)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.api.Info(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleKeyslot(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.writeJSON(w, http.StatusOK, KeyslotResponse{Key: key, Slot: s.api.Keyslot(key)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.api.Refresh(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	slots, err := s.api.Slots(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, slots)
}
