package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskhive/syncd/internal/sync/recovery"
)

// Server exposes local diagnostics endpoints: the recovery snapshot on
// /health and Prometheus metrics on /metrics.
type Server struct {
	client *Client
	server *http.Server
}

// NewServer creates a diagnostics server bound to the given port.
func NewServer(client *Client, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		client: client,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	recovery.Snapshot
	QueueDepth  int  `json:"queue_depth"`
	Invalidated bool `json:"cache_invalidated"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.client.Recovery().Snapshot()
	response := healthResponse{
		Snapshot:    snap,
		QueueDepth:  s.client.Queue().Len(),
		Invalidated: s.client.Tasks().Invalidated(),
	}

	w.Header().Set("Content-Type", "application/json")
	if snap.Status == recovery.StatusDegraded {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.client.Queue().Snapshot())
}
