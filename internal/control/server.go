package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server exposes worker lifecycle management over HTTP.
type Server struct {
	ctrl   *Controller
	logger *zap.Logger
}

// NewServer wraps a Controller with the HTTP surface.
func NewServer(ctrl *Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ctrl: ctrl, logger: logger}
}

// Handler returns the routing for /worker/{start,stop,status}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/worker/start", s.handleStart)
	mux.HandleFunc("/worker/stop", s.handleStop)
	mux.HandleFunc("/worker/status", s.handleStatus)
	return mux
}

// ListenAndServe runs the control server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("control server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "POST required"})
		return
	}

	pid, err := s.ctrl.Start()
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "already running", "pid": pid})
	case err != nil:
		s.logger.Error("worker start failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"started": true, "pid": pid})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "POST required"})
		return
	}

	err := s.ctrl.Stop()
	switch {
	case errors.Is(err, ErrNotRunning):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not running"})
	case err != nil:
		s.logger.Error("worker stop failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "GET required"})
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
