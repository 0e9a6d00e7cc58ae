// Package api serves the operational HTTP surface: probes, metrics and a
// JSON status summary.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/execsys/boardroom/internal/health"
)

// StatusProvider supplies the pieces of the /status document.
type StatusProvider interface {
	BusStats() map[string]interface{}
	JobIDs() []string
}

// Server is the HTTP server for probes and metrics.
type Server struct {
	monitor *health.Monitor
	status  StatusProvider
	httpSrv *http.Server
}

// NewServer builds the server on the given listen address.
func NewServer(addr string, monitor *health.Monitor, status StatusProvider) *Server {
	s := &Server{monitor: monitor, status: status}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Printf("[API] Listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Liveness(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.monitor.Readiness(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc := map[string]interface{}{
		"time": time.Now().Format(time.RFC3339),
	}
	if report := s.monitor.Last(); report != nil {
		doc["health"] = report
	}
	if s.status != nil {
		doc["bus"] = s.status.BusStats()
		doc["jobs"] = s.status.JobIDs()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		log.Printf("[API] Failed to encode status: %v", err)
	}
}
