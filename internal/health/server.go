// Package health provides a lightweight HTTP server for container health
// probes, separate from the public timing API.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DatabasePinger checks reading-log connectivity.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// CacheStats exposes classification cache counters for the readiness report.
type CacheStats interface {
	Stats() (hits, misses uint64, ratio float64)
}

// Config holds the health server wiring.
type Config struct {
	ServiceName string
	Version     string
	Port        string
	Logger      *logrus.Logger
	DB          DatabasePinger
	Cache       CacheStats
}

// Server answers /health, /ready and /live on its own port so orchestrator
// probes keep working while the timing API drains or restarts.
type Server struct {
	cfg       Config
	startedAt time.Time
	server    *http.Server

	mu    sync.RWMutex
	ready bool
}

// NewServer creates a health probe server. An empty port falls back to the
// HEALTH_PORT environment variable, then 8080.
func NewServer(cfg Config) *Server {
	if cfg.Port == "" {
		cfg.Port = os.Getenv("HEALTH_PORT")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	return &Server{cfg: cfg, startedAt: time.Now().UTC()}
}

// SetReady flips readiness. The main process sets it after the schema check
// and before the API starts listening, so rolling deploys never route
// ingestion traffic to a half-wired instance.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// IsReady reports the readiness flag.
func (s *Server) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Start runs the probe server in the background until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if s.cfg.Logger != nil {
			s.cfg.Logger.WithFields(logrus.Fields{
				"port":    s.cfg.Port,
				"service": s.cfg.ServiceName,
			}).Info("Health probe server starting")
		}
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.cfg.Logger != nil {
				s.cfg.Logger.WithError(err).Error("Health probe server error")
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	return nil
}

// Shutdown stops the probe server, waiting briefly for in-flight probes.
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("Health probe server shutting down")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   s.cfg.ServiceName,
		"version":   s.cfg.Version,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": s.cfg.ServiceName,
	})
}

// handleReady reports readiness: the service must be past its startup wiring
// and the reading log must be reachable. Cache counters ride along as
// operational detail without affecting the verdict.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	checks := map[string]string{}
	ok := true

	if s.IsReady() {
		checks["service"] = "ok"
	} else {
		checks["service"] = "not_ready"
		ok = false
	}

	if s.cfg.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.cfg.DB.Ping(ctx); err != nil {
			checks["reading_log"] = fmt.Sprintf("error: %v", err)
			ok = false
		} else {
			checks["reading_log"] = "ok"
		}
	}

	body := map[string]interface{}{
		"service":  s.cfg.ServiceName,
		"checks":   checks,
		"duration": time.Since(started).String(),
	}
	if s.cfg.Cache != nil {
		hits, misses, ratio := s.cfg.Cache.Stats()
		body["cache"] = map[string]interface{}{
			"hits":      hits,
			"misses":    misses,
			"hit_ratio": ratio,
		}
	}

	status := http.StatusOK
	body["status"] = "ok"
	if !ok {
		status = http.StatusServiceUnavailable
		body["status"] = "not_ready"
	}
	s.writeJSON(w, status, body)
}
