// Package server exposes the donation queue over HTTP with the same
// routes the companion dashboard and alert sources speak.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/donodeck/pkg/ledger"
	"github.com/dgnsrekt/donodeck/pkg/queue"
	"github.com/dgnsrekt/donodeck/pkg/speech"
)

// Server is the HTTP front of the queue.
type Server struct {
	orch     *queue.Orchestrator
	store    *ledger.Store
	resolver *speech.Resolver
	logger   *log.Logger

	httpServer *http.Server
}

// New builds a server bound to addr.
func New(addr string, orch *queue.Orchestrator, store *ledger.Store, resolver *speech.Resolver, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		orch:     orch,
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table. Split out so tests can drive it
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /add_donation", s.handleAddDonation)
	mux.HandleFunc("POST /process_next", s.handleProcessNext)
	mux.HandleFunc("POST /skip_next", s.handleSkipNext)
	mux.HandleFunc("POST /stop_tts", s.handleStopTTS)
	mux.HandleFunc("POST /reset_counter", s.handleResetCounter)
	mux.HandleFunc("POST /repair_stats", s.handleRepairStats)
	mux.HandleFunc("GET /queue_stats", s.handleQueueStats)
	mux.HandleFunc("GET /api/queue", s.handleQueueList)
	mux.HandleFunc("GET /api/reset_history", s.handleResetHistory)
	mux.HandleFunc("GET /api/test", s.handleTest)
	return s.logRequests(mux)
}

// ListenAndServe runs the server until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// logRequests wraps the mux with per-request logging.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", fmt.Sprintf("%.1fms", float64(time.Since(start).Microseconds())/1000),
		)
	})
}
