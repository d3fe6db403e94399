// Package health exposes the HTTP monitoring surface: aggregate status,
// per-dependency connection health, and the error-monitor summary.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/mediagate/internal/gateway"
	"github.com/vietddude/mediagate/internal/resilience/monitor"
)

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	gateway *gateway.Gateway
	monitor *monitor.Monitor
	server  *http.Server
}

// NewServer creates a new health server.
func NewServer(gw *gateway.Gateway, mon *monitor.Monitor, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		gateway: gw,
		monitor: mon,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/connections", s.handleConnections)
	mux.HandleFunc("/health/errors", s.handleErrors)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.gateway.ConnectionHealth()

	// Degraded while any breaker is open; the fallback tiers keep the
	// service answering, so this never reports hard-down on its own.
	status := "healthy"
	code := http.StatusOK
	for _, state := range health.CircuitBreakers {
		if state != "closed" {
			status = "degraded"
			code = http.StatusOK
		}
	}
	for _, dep := range health.Dependencies {
		if !dep.Healthy && !dep.LastCheck.IsZero() {
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	health := s.gateway.CheckAll(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.monitor.Summary())
}
