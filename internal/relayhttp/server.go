// Package relayhttp serves the relay's HTTP side channel of spec.md §6:
// GET /health (a small JSON status document) and GET /metrics (the
// Prometheus text exposition format). Grounded on the teacher's
// internal/health.Server for the listen/Start/Stop lifecycle shape, with
// the mesh-specific splash page, pprof, dashboard, and remote-agent
// endpoints dropped — this relay has no topology to render and no
// operator console beyond the two canonical endpoints spec.md names.
package relayhttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeroksync/0k-sync/internal/relaycoord"
	"github.com/zeroksync/0k-sync/internal/sysinfo"
)

// Config controls the HTTP side channel's listen address and whether
// /metrics is served at all, mirroring spec.md §6's http.bind_address
// and http.metrics_enabled options.
type Config struct {
	Address        string
	MetricsEnabled bool
}

// DefaultConfig returns a reasonable default: listen on :9090, metrics on.
func DefaultConfig() Config {
	return Config{Address: ":9090", MetricsEnabled: true}
}

// Server serves /health and, optionally, /metrics.
type Server struct {
	cfg      Config
	coord    *relaycoord.Coordinator
	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer builds a Server that reports coord's session/group counts on
// /health and, when cfg.MetricsEnabled, exposes reg (or the default
// Prometheus registry, if reg is nil) on /metrics.
func NewServer(cfg Config, coord *relaycoord.Coordinator, reg *prometheus.Registry) *Server {
	s := &Server{cfg: cfg, coord: coord, registry: reg}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if cfg.MetricsEnabled {
		if reg != nil {
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		} else {
			mux.Handle("/metrics", promhttp.Handler())
		}
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in the background. Call Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)
	go s.server.Serve(ln)
	return nil
}

// Stop gracefully shuts the server down, waiting up to 5s for in-flight
// requests to finish.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Address returns the server's bound listen address, valid after Start.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Connections   int    `json:"connections"`
	Groups        int    `json:"groups"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth answers spec.md §6's GET /health contract exactly:
// {status, version, connections, groups, uptime_seconds}.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	connections, groups := s.coord.Stats()
	resp := healthResponse{
		Status:        "healthy",
		Version:       sysinfo.Version,
		Connections:   connections,
		Groups:        groups,
		UptimeSeconds: sysinfo.UptimeSeconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
