// Package api exposes the public HTTP surface: reading ingestion, computed
// classifications, live projections and race-control commands.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/apex-timing/internal/classification"
	"github.com/yourusername/apex-timing/internal/config"
	"github.com/yourusername/apex-timing/internal/ingest"
	"github.com/yourusername/apex-timing/internal/live"
	"github.com/yourusername/apex-timing/internal/metrics"
	"github.com/yourusername/apex-timing/internal/racecontrol"
	"github.com/yourusername/apex-timing/internal/repository"
)

// Server hosts the timing API.
type Server struct {
	cfg      config.ServerConfig
	pipeline *ingest.Pipeline
	engine   *classification.Engine
	control  *racecontrol.Machine
	hub      *live.Hub
	regs     repository.RegistrationRepository
	logger   *logrus.Logger

	metricsEnabled bool
	middleware     []func(http.Handler) http.Handler
	httpServer     *http.Server
}

// Use installs an outermost HTTP middleware, applied in registration order.
func (s *Server) Use(mw func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw)
}

// NewServer wires the API server. The hub may be nil when live streaming is
// disabled.
func NewServer(
	cfg config.ServerConfig,
	pipeline *ingest.Pipeline,
	engine *classification.Engine,
	control *racecontrol.Machine,
	hub *live.Hub,
	regs repository.RegistrationRepository,
	metricsEnabled bool,
	logger *logrus.Logger,
) *Server {
	return &Server{
		cfg:            cfg,
		pipeline:       pipeline,
		engine:         engine,
		control:        control,
		hub:            hub,
		regs:           regs,
		metricsEnabled: metricsEnabled,
		logger:         logger,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/readings", s.handleSubmitReading)
	mux.HandleFunc("POST /api/v1/readings/batch", s.handleSubmitBatch)
	mux.HandleFunc("POST /api/v1/readings/{id}/discard", s.handleDiscardReading)
	mux.HandleFunc("POST /api/v1/readings/{id}/restore", s.handleRestoreReading)
	mux.HandleFunc("POST /api/v1/readings/{id}/correct", s.handleCorrectReading)

	mux.HandleFunc("GET /api/v1/stages/{id}/classification", s.handleClassification)
	mux.HandleFunc("GET /api/v1/stages/{id}/live", s.handleLiveProjection)
	mux.HandleFunc("GET /api/v1/stages/{id}/specials/{lap}/{special}", s.handleSpecialLeaderboard)
	mux.HandleFunc("GET /api/v1/stages/{id}/compare", s.handleCompare)
	mux.HandleFunc("GET /api/v1/stages/{id}/readings/unmatched", s.handleUnmatched)
	mux.HandleFunc("POST /api/v1/stages/{id}/recalculate", s.handleRecalculate)
	mux.HandleFunc("POST /api/v1/stages/{id}/cache/invalidate", s.handleInvalidateCache)

	mux.HandleFunc("POST /api/v1/stages/{id}/start", s.handleStart)
	mux.HandleFunc("POST /api/v1/stages/{id}/flag", s.handleShowFlag)
	mux.HandleFunc("POST /api/v1/stages/{id}/finish", s.handleFinish)
	mux.HandleFunc("POST /api/v1/stages/{id}/cancel", s.handleCancel)

	if s.hub != nil {
		mux.HandleFunc("GET /api/v1/stages/{id}/ws", s.handleLiveSocket)
	}
	if s.metricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	handler := s.logRequests(mux)
	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}
	return handler
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("API server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if s.hub != nil {
		s.hub.CloseAll()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
			"remote":   r.RemoteAddr,
		}).Debug("request handled")
	})
}
